package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sidepot/bet"
	"sidepot/metrics"
	"sidepot/outbox"
	"sidepot/streak"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BetStore is the slice of bet persistence settlement needs.
type BetStore interface {
	GetByID(ctx context.Context, id string) (bet.Bet, error)
	MarkResolved(ctx context.Context, tx pgx.Tx, id string, creatorWon bool, by bet.ResolvedBy) (bet.Bet, error)
	MarkDisputed(ctx context.Context, tx pgx.Tx, id string) (bet.Bet, error)
}

// Ledger is the currency mutation surface settlement composes.
type Ledger interface {
	EnsureAccount(ctx context.Context, tx pgx.Tx, player string) error
	Transfer(ctx context.Context, tx pgx.Tx, betID, winner, loser string, amount int64) error
}

// Streaks is the consecutive-win surface settlement composes.
type Streaks interface {
	StreakForUpdate(ctx context.Context, tx pgx.Tx, player string) (int, error)
	RecordWin(ctx context.Context, tx pgx.Tx, player string) error
	RecordLoss(ctx context.Context, tx pgx.Tx, player string) error
}

// Coordinator turns every terminal win/loss outcome into one all-or-nothing
// unit of work: the status transition, the ledger transfer, and both streak
// updates commit together or not at all.
type Coordinator struct {
	pool    TxBeginner
	bets    BetStore
	ledger  Ledger
	streaks Streaks
}

func NewCoordinator(pool TxBeginner, bets BetStore, ledger Ledger, streaks Streaks) *Coordinator {
	return &Coordinator{pool: pool, bets: bets, ledger: ledger, streaks: streaks}
}

// Settle resolves a bet in favor of the creator or the acceptor. The payout
// is the stake scaled by the winner's streak multiplier as it stood before
// this win. Any failure, including an insufficient loser balance, rolls the
// whole transaction back and leaves the bet in its prior state.
func (c *Coordinator) Settle(ctx context.Context, betID string, creatorWon bool, by bet.ResolvedBy) (rec bet.Bet, err error) {
	started := time.Now()
	defer func() { metrics.RecordSettlement(string(by), err, started) }()

	if by != bet.ResolvedAuto && by != bet.ResolvedManual {
		return bet.Bet{}, fmt.Errorf("settle: invalid provenance %q", by)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return bet.Bet{}, fmt.Errorf("settle: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err = c.bets.MarkResolved(ctx, tx, betID, creatorWon, by)
	if err != nil {
		return bet.Bet{}, err
	}
	if rec.Acceptor == nil {
		return bet.Bet{}, fmt.Errorf("settle: resolved bet %s has no acceptor", rec.ID)
	}

	winner, loser := rec.Creator, *rec.Acceptor
	if !creatorWon {
		winner, loser = loser, winner
	}

	if err = c.ledger.EnsureAccount(ctx, tx, winner); err != nil {
		return bet.Bet{}, err
	}
	if err = c.ledger.EnsureAccount(ctx, tx, loser); err != nil {
		return bet.Bet{}, err
	}

	winnerStreak, err := c.streaks.StreakForUpdate(ctx, tx, winner)
	if err != nil {
		return bet.Bet{}, err
	}
	payout := streak.Payout(rec.Amount, winnerStreak)

	if err = c.ledger.Transfer(ctx, tx, rec.ID, winner, loser, payout); err != nil {
		return bet.Bet{}, err
	}

	if err = c.streaks.RecordWin(ctx, tx, winner); err != nil {
		return bet.Bet{}, err
	}
	if err = c.streaks.RecordLoss(ctx, tx, loser); err != nil {
		return bet.Bet{}, err
	}

	if err = outbox.Enqueue(ctx, tx, outbox.TopicBetSettled, map[string]any{
		"bet_id":      rec.ID,
		"game_id":     rec.GameID,
		"winner":      winner,
		"loser":       loser,
		"payout":      payout,
		"resolved_by": string(by),
	}); err != nil {
		return bet.Bet{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return bet.Bet{}, fmt.Errorf("settle: commit: %w", err)
	}
	return rec, nil
}

// Refund closes a contested bet as disputed. Stakes are never escrowed at
// acceptance, so both parties keeping their stake means no currency moves;
// the transition and its outbox event are still committed atomically. An
// empty caller is treated as the system acting on its own authority;
// otherwise the caller must be a participant.
func (c *Coordinator) Refund(ctx context.Context, betID, caller string) (rec bet.Bet, err error) {
	started := time.Now()
	defer func() { metrics.RecordSettlement(string(bet.ResolvedRefunded), err, started) }()

	cur, err := c.bets.GetByID(ctx, betID)
	if err != nil {
		return bet.Bet{}, err
	}
	if caller != "" && !cur.IsParty(caller) {
		return bet.Bet{}, bet.ErrUnauthorized
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return bet.Bet{}, fmt.Errorf("settle: begin refund: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err = c.bets.MarkDisputed(ctx, tx, betID)
	if err != nil {
		return bet.Bet{}, err
	}

	payload := map[string]any{
		"bet_id":      rec.ID,
		"game_id":     rec.GameID,
		"amount":      rec.Amount,
		"creator":     rec.Creator,
		"resolved_by": string(bet.ResolvedRefunded),
	}
	if rec.Acceptor != nil {
		payload["acceptor"] = *rec.Acceptor
	}
	if err = outbox.Enqueue(ctx, tx, outbox.TopicBetDisputed, payload); err != nil {
		return bet.Bet{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return bet.Bet{}, fmt.Errorf("settle: commit refund: %w", err)
	}
	return rec, nil
}
