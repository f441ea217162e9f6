package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against the live schema while the
// workload is in flight. Each query returns rows only on violation.
func All() []Oracle {
	return []Oracle{
		{
			// No escrow and no grants in the workload, so every transfer is
			// zero-sum and the total must stay at 1000 per account.
			Name: "O1_currency_conserved",
			SQL: `SELECT SUM(balance) AS total, COUNT(*) * 1000 AS expected
                  FROM accounts
                  HAVING SUM(balance) <> COUNT(*) * 1000`,
		},
		{
			Name: "O2_no_negative_balance",
			SQL:  `SELECT player_name, balance FROM accounts WHERE balance < 0`,
		},
		{
			Name: "O3_ledger_zero_sum",
			SQL: `SELECT bet_id FROM ledger_entries
                  WHERE bet_id IS NOT NULL
                  GROUP BY bet_id
                  HAVING SUM(CASE WHEN entry_type = 'credit' THEN amount ELSE -amount END) <> 0`,
		},
		{
			// A settled bet carries exactly one debit/credit pair.
			Name: "O4_single_settlement",
			SQL: `SELECT bet_id, COUNT(*) FROM ledger_entries
                  WHERE bet_id IS NOT NULL
                  GROUP BY bet_id HAVING COUNT(*) <> 2`,
		},
		{
			Name: "O5_resolved_shape",
			SQL: `SELECT id, status FROM bets
                  WHERE (status = 'resolved' AND (result IS NULL OR resolved_by NOT IN ('auto', 'manual') OR acceptor IS NULL))
                     OR (status = 'disputed' AND resolved_by <> 'refunded')
                     OR (status = 'expired' AND resolved_by <> 'expired')`,
		},
		{
			// Disputed bets never touch the ledger.
			Name: "O6_dispute_moves_nothing",
			SQL: `SELECT b.id FROM bets b
                  JOIN ledger_entries le ON le.bet_id = b.id
                  WHERE b.status = 'disputed'`,
		},
		{
			Name: "O7_streak_ratchet",
			SQL: `SELECT player_name FROM accounts
                  WHERE best_streak < current_streak OR current_streak > bets_won`,
		},
		{
			Name: "O8_outbox_not_stuck",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
