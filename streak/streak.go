package streak

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrAccountNotFound signals a streak update against a missing account.
var ErrAccountNotFound = errors.New("streak: account not found")

// MultiplierFor maps a consecutive-win streak to a payout multiplier.
// Pure and deterministic; the settlement coordinator applies it to the
// winner's streak as it stood before the win being settled.
func MultiplierFor(streak int) decimal.Decimal {
	switch {
	case streak >= 7:
		return decimal.NewFromInt(2)
	case streak >= 5:
		return decimal.NewFromFloat(1.5)
	case streak >= 3:
		return decimal.NewFromFloat(1.25)
	default:
		return decimal.NewFromInt(1)
	}
}

// Payout scales a stake by the streak multiplier, truncating to whole
// currency units so rounding can never mint currency.
func Payout(amount int64, streak int) int64 {
	return decimal.NewFromInt(amount).Mul(MultiplierFor(streak)).Floor().IntPart()
}

// Repository owns the consecutive-win counters on player accounts.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// StreakOf returns the player's current streak, zero if the account is
// absent.
func (r *Repository) StreakOf(ctx context.Context, player string) (int, error) {
	var streak int
	err := r.pool.QueryRow(ctx, `SELECT current_streak FROM accounts WHERE player_name = $1`, player).Scan(&streak)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("streak: streak of %s: %w", player, err)
	}
	return streak, nil
}

// StreakForUpdate reads the current streak inside the caller's transaction,
// locking the account row for the duration of the settlement.
func (r *Repository) StreakForUpdate(ctx context.Context, tx pgx.Tx, player string) (int, error) {
	var streak int
	err := tx.QueryRow(ctx, `SELECT current_streak FROM accounts WHERE player_name = $1 FOR UPDATE`, player).Scan(&streak)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("streak: lock streak of %s: %w", player, err)
	}
	return streak, nil
}

// RecordWin bumps the streak and win count in one atomic update. The best
// streak only ever ratchets upward.
func (r *Repository) RecordWin(ctx context.Context, tx pgx.Tx, player string) error {
	tag, err := tx.Exec(ctx, `
UPDATE accounts
SET current_streak = current_streak + 1,
    best_streak = GREATEST(best_streak, current_streak + 1),
    bets_won = bets_won + 1,
    updated_at = now()
WHERE player_name = $1`, player)
	if err != nil {
		return fmt.Errorf("streak: record win: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecordLoss resets the streak and bumps the loss count.
func (r *Repository) RecordLoss(ctx context.Context, tx pgx.Tx, player string) error {
	tag, err := tx.Exec(ctx, `
UPDATE accounts
SET current_streak = 0,
    bets_lost = bets_lost + 1,
    updated_at = now()
WHERE player_name = $1`, player)
	if err != nil {
		return fmt.Errorf("streak: record loss: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
