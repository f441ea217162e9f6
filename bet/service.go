package bet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sidepot/metrics"
	"sidepot/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the bet persistence the service depends on.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, b Bet) (Bet, error)
	Accept(ctx context.Context, tx pgx.Tx, id, acceptor string) (Bet, error)
	Cancel(ctx context.Context, tx pgx.Tx, id, caller string) (Bet, error)
	Claim(ctx context.Context, tx pgx.Tx, id, claimant string) (Bet, error)
	ExpireOpen(ctx context.Context, tx pgx.Tx, gameID string) ([]Bet, error)
	GetByID(ctx context.Context, id string) (Bet, error)
	ListByGame(ctx context.Context, gameID string) ([]Bet, error)
}

// AccountEnsurer lazily provisions player accounts on first wagering
// activity.
type AccountEnsurer interface {
	EnsureAccount(ctx context.Context, tx pgx.Tx, player string) error
}

// Service drives the non-monetary lifecycle transitions: creation,
// acceptance, cancellation, claims, and the game-end expiration sweep.
// Win/loss settlement and dispute refunds belong to the settlement
// coordinator, which composes the ledger into the same transaction.
type Service struct {
	pool     TxBeginner
	store    Store
	accounts AccountEnsurer
}

func NewService(pool TxBeginner, store Store, accounts AccountEnsurer) *Service {
	return &Service{pool: pool, store: store, accounts: accounts}
}

// CreateParams captures a new wager.
type CreateParams struct {
	GameID       string
	Kind         Kind
	Timing       Timing
	Creator      string
	Amount       int64
	Prediction   *string
	TargetPlayer *string
}

func (p CreateParams) validate() error {
	if p.GameID == "" {
		return fmt.Errorf("bet: game id required")
	}
	if p.Creator == "" {
		return fmt.Errorf("bet: creator required")
	}
	if p.Amount < MinAmount || p.Amount > MaxAmount {
		return fmt.Errorf("bet: amount must be between %d and %d, got %d", MinAmount, MaxAmount, p.Amount)
	}
	switch p.Timing {
	case TimingManual, TimingAuto:
	default:
		return fmt.Errorf("bet: invalid resolution timing %q", p.Timing)
	}
	switch k := p.Kind.(type) {
	case Preset:
		if k.Type == "" {
			return fmt.Errorf("bet: preset type required")
		}
	case Custom:
		if k.Description == "" {
			return fmt.Errorf("bet: custom description required")
		}
		if p.Timing == TimingAuto {
			return fmt.Errorf("bet: custom bets must be settled manually")
		}
	default:
		return fmt.Errorf("bet: kind required")
	}
	return nil
}

// Create opens a new bet, provisioning the creator's account if absent.
func (s *Service) Create(ctx context.Context, params CreateParams) (rec Bet, err error) {
	defer func() { metrics.RecordBetOp("create", err) }()

	if err = params.validate(); err != nil {
		return Bet{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bet{}, fmt.Errorf("bet: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if err = s.accounts.EnsureAccount(ctx, tx, params.Creator); err != nil {
		return Bet{}, err
	}

	rec, err = s.store.Insert(ctx, tx, Bet{
		ID:           uuid.NewString(),
		GameID:       params.GameID,
		Kind:         params.Kind,
		Timing:       params.Timing,
		Creator:      params.Creator,
		Amount:       params.Amount,
		Prediction:   params.Prediction,
		TargetPlayer: params.TargetPlayer,
	})
	if err != nil {
		return Bet{}, err
	}

	if err = outbox.Enqueue(ctx, tx, outbox.TopicBetCreated, map[string]any{
		"bet_id":  rec.ID,
		"game_id": rec.GameID,
		"creator": rec.Creator,
		"amount":  rec.Amount,
	}); err != nil {
		return Bet{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Bet{}, fmt.Errorf("bet: commit create: %w", err)
	}
	return rec, nil
}

// Accept binds an acceptor to an open bet, provisioning their account if
// absent. Self-acceptance is rejected with ErrUnauthorized.
func (s *Service) Accept(ctx context.Context, id, acceptor string) (rec Bet, err error) {
	defer func() { metrics.RecordBetOp("accept", err) }()

	if id == "" || acceptor == "" {
		return Bet{}, fmt.Errorf("bet: bet id and acceptor required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bet{}, fmt.Errorf("bet: begin accept: %w", err)
	}
	defer tx.Rollback(ctx)

	if err = s.accounts.EnsureAccount(ctx, tx, acceptor); err != nil {
		return Bet{}, err
	}

	rec, err = s.store.Accept(ctx, tx, id, acceptor)
	if err != nil {
		return Bet{}, err
	}

	if err = outbox.Enqueue(ctx, tx, outbox.TopicBetAccepted, map[string]any{
		"bet_id":   rec.ID,
		"game_id":  rec.GameID,
		"acceptor": acceptor,
	}); err != nil {
		return Bet{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Bet{}, fmt.Errorf("bet: commit accept: %w", err)
	}
	return rec, nil
}

// Cancel retracts an open bet on behalf of its creator.
func (s *Service) Cancel(ctx context.Context, id, caller string) (rec Bet, err error) {
	defer func() { metrics.RecordBetOp("cancel", err) }()

	if id == "" || caller == "" {
		return Bet{}, fmt.Errorf("bet: bet id and caller required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bet{}, fmt.Errorf("bet: begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err = s.store.Cancel(ctx, tx, id, caller)
	if err != nil {
		return Bet{}, err
	}

	if err = outbox.Enqueue(ctx, tx, outbox.TopicBetCancelled, map[string]any{
		"bet_id":  rec.ID,
		"game_id": rec.GameID,
	}); err != nil {
		return Bet{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Bet{}, fmt.Errorf("bet: commit cancel: %w", err)
	}
	return rec, nil
}

// ClaimWin records a participant's assertion of having won, pending
// confirmation or dispute.
func (s *Service) ClaimWin(ctx context.Context, id, claimant string) (rec Bet, err error) {
	defer func() { metrics.RecordBetOp("claim", err) }()

	if id == "" || claimant == "" {
		return Bet{}, fmt.Errorf("bet: bet id and claimant required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bet{}, fmt.Errorf("bet: begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err = s.store.Claim(ctx, tx, id, claimant)
	if err != nil {
		return Bet{}, err
	}

	if err = outbox.Enqueue(ctx, tx, outbox.TopicBetClaimed, map[string]any{
		"bet_id":         rec.ID,
		"game_id":        rec.GameID,
		"claimed_winner": claimant,
	}); err != nil {
		return Bet{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Bet{}, fmt.Errorf("bet: commit claim: %w", err)
	}
	return rec, nil
}

// ExpireOpenBets batch-expires every still-open bet of a finished game.
// Bets that reached active or beyond are untouched; they settle or dispute
// on their own terms.
func (s *Service) ExpireOpenBets(ctx context.Context, gameID string) (expired []Bet, err error) {
	defer func() { metrics.RecordBetOp("expire", err) }()

	if gameID == "" {
		return nil, fmt.Errorf("bet: game id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bet: begin expire: %w", err)
	}
	defer tx.Rollback(ctx)

	expired, err = s.store.ExpireOpen(ctx, tx, gameID)
	if err != nil {
		return nil, err
	}

	for _, rec := range expired {
		if err = outbox.Enqueue(ctx, tx, outbox.TopicBetExpired, map[string]any{
			"bet_id":  rec.ID,
			"game_id": rec.GameID,
		}); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("bet: commit expire: %w", err)
	}
	return expired, nil
}

// Get returns a single bet.
func (s *Service) Get(ctx context.Context, id string) (Bet, error) {
	if id == "" {
		return Bet{}, fmt.Errorf("bet: bet id required")
	}
	return s.store.GetByID(ctx, id)
}

// ListByGame returns every bet of a game, newest first.
func (s *Service) ListByGame(ctx context.Context, gameID string) ([]Bet, error) {
	if gameID == "" {
		return nil, fmt.Errorf("bet: game id required")
	}
	return s.store.ListByGame(ctx, gameID)
}
