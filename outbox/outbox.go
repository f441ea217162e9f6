package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Topics published by the wagering core. The realtime broadcaster and any
// downstream consumers subscribe to these; the wire format beyond the JSON
// payload is their concern.
const (
	TopicBetCreated   = "bet.created"
	TopicBetAccepted  = "bet.accepted"
	TopicBetCancelled = "bet.cancelled"
	TopicBetClaimed   = "bet.claimed"
	TopicBetSettled   = "bet.settled"
	TopicBetDisputed  = "bet.disputed"
	TopicBetExpired   = "bet.expired"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Message is one transactional outbox row.
type Message struct {
	ID        int64
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Enqueue inserts an outbox row inside the caller's transaction so the
// event becomes visible iff the surrounding business write commits.
func Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

// Repository reads and updates outbox delivery state for the dispatcher.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPending returns up to limit undelivered messages, oldest first.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, topic, payload, status, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list pending: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate: %w", err)
	}
	return out, nil
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `
UPDATE outbox
SET status = 'sent', attempts = attempts + 1, sent_at = now()
WHERE id = $1`, id); err != nil {
		return fmt.Errorf("outbox: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt with its cause.
func (r *Repository) MarkFailed(ctx context.Context, id int64, cause string) error {
	if len(cause) > 240 {
		cause = cause[:240]
	}
	if _, err := r.pool.Exec(ctx, `
UPDATE outbox
SET status = 'failed', attempts = attempts + 1, last_error = $2
WHERE id = $1`, id, cause); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
