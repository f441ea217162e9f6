package bet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const betColumns = `id, game_id, kind, preset_type, custom_description, resolution_timing,
creator, acceptor, amount, prediction, target_player, status, result, resolved_by,
round_number, trick_number, claimed_winner, created_at, accepted_at, resolved_at`

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx, so reads can run
// either standalone or inside a caller's transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository owns every read and conditional write against the bets table.
// All transitions are guarded on the stored status (optimistic concurrency):
// the UPDATE only matches when the row is still in the expected source state,
// and a miss is diagnosed into a typed error rather than swallowed.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a freshly created bet in the open state.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, b Bet) (Bet, error) {
	var (
		kindName   string
		presetType *string
		customDesc *string
		round      *int
		trick      *int
	)
	switch k := b.Kind.(type) {
	case Preset:
		kindName = "preset"
		presetType = &k.Type
		round = k.Round
		trick = k.Trick
	case Custom:
		kindName = "custom"
		customDesc = &k.Description
	default:
		return Bet{}, fmt.Errorf("bet: unsupported kind %T", b.Kind)
	}

	const insertSQL = `
INSERT INTO bets (id, game_id, kind, preset_type, custom_description, resolution_timing,
                  creator, amount, prediction, target_player, round_number, trick_number, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'open')
RETURNING ` + betColumns

	row := tx.QueryRow(ctx, insertSQL,
		b.ID, b.GameID, kindName, presetType, customDesc, b.Timing,
		b.Creator, b.Amount, b.Prediction, b.TargetPlayer, round, trick,
	)
	rec, err := scanBet(row)
	if err != nil {
		return Bet{}, fmt.Errorf("bet: insert: %w", err)
	}
	return rec, nil
}

// GetByID fetches a single bet.
func (r *Repository) GetByID(ctx context.Context, id string) (Bet, error) {
	return r.get(ctx, r.pool, id)
}

func (r *Repository) get(ctx context.Context, q rowQuerier, id string) (Bet, error) {
	row := q.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	rec, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bet{}, ErrNotFound
	}
	if err != nil {
		return Bet{}, fmt.Errorf("bet: fetch: %w", err)
	}
	return rec, nil
}

// Accept moves an open bet to active, binding the acceptor. Self-acceptance
// is rejected with ErrUnauthorized.
func (r *Repository) Accept(ctx context.Context, tx pgx.Tx, id, acceptor string) (Bet, error) {
	const updateSQL = `
UPDATE bets
SET status = 'active', acceptor = $2, accepted_at = now()
WHERE id = $1 AND status = 'open' AND creator <> $2
RETURNING ` + betColumns

	rec, err := scanBet(tx.QueryRow(ctx, updateSQL, id, acceptor))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Bet{}, fmt.Errorf("bet: accept: %w", err)
	}

	cur, err := r.get(ctx, tx, id)
	if err != nil {
		return Bet{}, err
	}
	if cur.Status == StatusOpen && cur.Creator == acceptor {
		return Bet{}, ErrUnauthorized
	}
	if cur.Status == StatusResolved {
		return Bet{}, ErrAlreadyResolved
	}
	return Bet{}, ErrInvalidTransition
}

// Cancel retracts an open bet. Only the creator may cancel.
func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, id, caller string) (Bet, error) {
	const updateSQL = `
UPDATE bets
SET status = 'cancelled'
WHERE id = $1 AND status = 'open' AND creator = $2
RETURNING ` + betColumns

	rec, err := scanBet(tx.QueryRow(ctx, updateSQL, id, caller))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Bet{}, fmt.Errorf("bet: cancel: %w", err)
	}

	cur, err := r.get(ctx, tx, id)
	if err != nil {
		return Bet{}, err
	}
	if cur.Creator != caller {
		return Bet{}, ErrUnauthorized
	}
	if cur.Status == StatusResolved {
		return Bet{}, ErrAlreadyResolved
	}
	return Bet{}, ErrInvalidTransition
}

// Claim asserts a win on an active bet, moving it to pending resolution.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, id, claimant string) (Bet, error) {
	const updateSQL = `
UPDATE bets
SET status = 'pending_resolution', claimed_winner = $2
WHERE id = $1 AND status = 'active' AND (creator = $2 OR acceptor = $2)
RETURNING ` + betColumns

	rec, err := scanBet(tx.QueryRow(ctx, updateSQL, id, claimant))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Bet{}, fmt.Errorf("bet: claim: %w", err)
	}

	cur, err := r.get(ctx, tx, id)
	if err != nil {
		return Bet{}, err
	}
	if !cur.IsParty(claimant) {
		return Bet{}, ErrUnauthorized
	}
	switch cur.Status {
	case StatusPendingResolution:
		return Bet{}, ErrAlreadyClaimed
	case StatusResolved:
		return Bet{}, ErrAlreadyResolved
	default:
		return Bet{}, ErrInvalidTransition
	}
}

// MarkResolved commits the terminal win/loss transition. Exactly one of two
// concurrent attempts succeeds; the loser observes ErrInvalidTransition (or
// ErrAlreadyResolved once the winner has committed).
func (r *Repository) MarkResolved(ctx context.Context, tx pgx.Tx, id string, creatorWon bool, by ResolvedBy) (Bet, error) {
	const updateSQL = `
UPDATE bets
SET status = 'resolved', result = $2, resolved_by = $3, resolved_at = now()
WHERE id = $1 AND status IN ('active', 'pending_resolution')
RETURNING ` + betColumns

	rec, err := scanBet(tx.QueryRow(ctx, updateSQL, id, creatorWon, by))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Bet{}, fmt.Errorf("bet: resolve: %w", err)
	}

	cur, err := r.get(ctx, tx, id)
	if err != nil {
		return Bet{}, err
	}
	if cur.Status == StatusResolved {
		return Bet{}, ErrAlreadyResolved
	}
	return Bet{}, ErrInvalidTransition
}

// MarkDisputed moves a contested bet to disputed with refund provenance.
func (r *Repository) MarkDisputed(ctx context.Context, tx pgx.Tx, id string) (Bet, error) {
	const updateSQL = `
UPDATE bets
SET status = 'disputed', resolved_by = 'refunded', resolved_at = now()
WHERE id = $1 AND status IN ('active', 'pending_resolution')
RETURNING ` + betColumns

	rec, err := scanBet(tx.QueryRow(ctx, updateSQL, id))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Bet{}, fmt.Errorf("bet: dispute: %w", err)
	}

	cur, err := r.get(ctx, tx, id)
	if err != nil {
		return Bet{}, err
	}
	if cur.Status == StatusResolved {
		return Bet{}, ErrAlreadyResolved
	}
	return Bet{}, ErrInvalidTransition
}

// ExpireOpen batch-expires every open bet of a finished game and returns
// the expired rows.
func (r *Repository) ExpireOpen(ctx context.Context, tx pgx.Tx, gameID string) ([]Bet, error) {
	const updateSQL = `
UPDATE bets
SET status = 'expired', resolved_by = 'expired', resolved_at = now()
WHERE game_id = $1 AND status = 'open'
RETURNING ` + betColumns

	rows, err := tx.Query(ctx, updateSQL, gameID)
	if err != nil {
		return nil, fmt.Errorf("bet: expire open: %w", err)
	}
	defer rows.Close()

	return collectBets(rows)
}

// ListByGame returns every bet of a game, newest first.
func (r *Repository) ListByGame(ctx context.Context, gameID string) ([]Bet, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+betColumns+` FROM bets WHERE game_id = $1 ORDER BY created_at DESC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("bet: list by game: %w", err)
	}
	defer rows.Close()

	return collectBets(rows)
}

// FindAutoCandidates returns the active, auto-timed preset bets an event of
// the given type may settle. An event without a round number only matches
// whole-game bets; a round-scoped event additionally matches bets pinned to
// that round.
func (r *Repository) FindAutoCandidates(ctx context.Context, gameID, presetType string, round *int) ([]Bet, error) {
	query := `
SELECT ` + betColumns + `
FROM bets
WHERE game_id = $1
  AND status = 'active'
  AND resolution_timing = 'auto'
  AND kind = 'preset'
  AND preset_type = $2`
	args := []any{gameID, presetType}
	if round != nil {
		query += ` AND (round_number IS NULL OR round_number = $3)`
		args = append(args, *round)
	} else {
		query += ` AND round_number IS NULL`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bet: find candidates: %w", err)
	}
	defer rows.Close()

	return collectBets(rows)
}

func collectBets(rows pgx.Rows) ([]Bet, error) {
	out := make([]Bet, 0, 8)
	for rows.Next() {
		rec, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("bet: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bet: iterate: %w", err)
	}
	return out, nil
}

func scanBet(row pgx.Row) (Bet, error) {
	var (
		b          Bet
		kindName   string
		presetType *string
		customDesc *string
		resolvedBy *string
		round      *int
		trick      *int
	)
	if err := row.Scan(
		&b.ID, &b.GameID, &kindName, &presetType, &customDesc, &b.Timing,
		&b.Creator, &b.Acceptor, &b.Amount, &b.Prediction, &b.TargetPlayer,
		&b.Status, &b.Result, &resolvedBy,
		&round, &trick, &b.ClaimedWinner,
		&b.CreatedAt, &b.AcceptedAt, &b.ResolvedAt,
	); err != nil {
		return Bet{}, err
	}

	switch kindName {
	case "preset":
		var p Preset
		if presetType != nil {
			p.Type = *presetType
		}
		p.Round = round
		p.Trick = trick
		b.Kind = p
	case "custom":
		var c Custom
		if customDesc != nil {
			c.Description = *customDesc
		}
		b.Kind = c
	default:
		return Bet{}, fmt.Errorf("unknown bet kind %q", kindName)
	}

	if resolvedBy != nil {
		rb := ResolvedBy(*resolvedBy)
		b.ResolvedBy = &rb
	}
	return b, nil
}
