package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInsufficientFunds signals the conditional debit matched no row
	// because the balance would have gone negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrAccountNotFound signals no account row exists for the player.
	ErrAccountNotFound = errors.New("ledger: account not found")
)

// Account mirrors the accounts table.
type Account struct {
	Name          string
	Balance       int64
	CurrentStreak int
	BestStreak    int
	BetsWon       int
	BetsLost      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository is the sole owner of currency mutation. Every balance change
// is a single conditional UPDATE so concurrent transfers serialize per
// account without the caller holding a lock, and the non-negative-balance
// invariant holds under any interleaving.
type Repository struct {
	pool            *pgxpool.Pool
	startingBalance int64
}

func NewRepository(pool *pgxpool.Pool, startingBalance int64) *Repository {
	return &Repository{pool: pool, startingBalance: startingBalance}
}

// EnsureAccount lazily creates a zero-history account with the starting
// balance. Idempotent; safe to call on every wagering action.
func (r *Repository) EnsureAccount(ctx context.Context, tx pgx.Tx, player string) error {
	if player == "" {
		return fmt.Errorf("ledger: empty player name")
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO accounts (player_name, balance)
VALUES ($1, $2)
ON CONFLICT (player_name) DO NOTHING`, player, r.startingBalance); err != nil {
		return fmt.Errorf("ledger: ensure account: %w", err)
	}
	return nil
}

// Transfer debits loser and credits winner by amount inside the caller's
// transaction. The debit is conditional on the remaining balance staying
// non-negative; when it matches no row the transfer fails before any credit
// and the caller's rollback leaves both accounts untouched.
func (r *Repository) Transfer(ctx context.Context, tx pgx.Tx, betID, winner, loser string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: transfer amount must be positive, got %d", amount)
	}
	if winner == loser {
		return fmt.Errorf("ledger: transfer winner and loser must differ")
	}

	tag, err := tx.Exec(ctx, `
UPDATE accounts
SET balance = balance - $1, updated_at = now()
WHERE player_name = $2 AND balance - $1 >= 0`, amount, loser)
	if err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE player_name = $1)`, loser).Scan(&exists); err != nil {
			return fmt.Errorf("ledger: debit lookup: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrInsufficientFunds
	}

	tag, err = tx.Exec(ctx, `
UPDATE accounts
SET balance = balance + $1, updated_at = now()
WHERE player_name = $2`, amount, winner)
	if err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO ledger_entries (bet_id, player_name, entry_type, amount)
VALUES ($1, $2, 'debit', $3), ($1, $4, 'credit', $3)`, betID, loser, amount, winner); err != nil {
		return fmt.Errorf("ledger: record entries: %w", err)
	}

	return nil
}

// Grant credits a player outside any wager, creating the account if needed.
// This is the only non-zero-sum mutation and exists for operational top-ups.
func (r *Repository) Grant(ctx context.Context, player string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: grant amount must be positive, got %d", amount)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin grant: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.EnsureAccount(ctx, tx, player); err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRow(ctx, `
UPDATE accounts
SET balance = balance + $1, updated_at = now()
WHERE player_name = $2
RETURNING balance`, amount, player).Scan(&balance); err != nil {
		return 0, fmt.Errorf("ledger: grant: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO ledger_entries (player_name, entry_type, amount)
VALUES ($1, 'grant', $2)`, player, amount); err != nil {
		return 0, fmt.Errorf("ledger: record grant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ledger: commit grant: %w", err)
	}
	return balance, nil
}

// BalanceOf returns the player's balance. An absent account reports the
// starting balance, matching lazy creation semantics.
func (r *Repository) BalanceOf(ctx context.Context, player string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE player_name = $1`, player).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.startingBalance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: balance of %s: %w", player, err)
	}
	return balance, nil
}

// AccountOf returns the full account record.
func (r *Repository) AccountOf(ctx context.Context, player string) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `
SELECT player_name, balance, current_streak, best_streak, bets_won, bets_lost, created_at, updated_at
FROM accounts
WHERE player_name = $1`, player).
		Scan(&a.Name, &a.Balance, &a.CurrentStreak, &a.BestStreak, &a.BetsWon, &a.BetsLost, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("ledger: account of %s: %w", player, err)
	}
	return a, nil
}
