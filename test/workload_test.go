package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sidepot/bet"
	"sidepot/ledger"
	"sidepot/match"
	"sidepot/outbox"
	"sidepot/settle"
	"sidepot/streak"
	"sidepot/test/actors"
	"sidepot/test/chaos"
	"sidepot/test/infra"
	"sidepot/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run the workload")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// TestWageringConcurrency runs the full actor mix against a live database and
// checks the conservation and consistency oracles on a fixed cadence. Any
// oracle hit fails the run with the seed needed to replay it.
func TestWageringConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("SIDEPOT_TEST_PG_DSN") != "":
		dsn = os.Getenv("SIDEPOT_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	gameID := fmt.Sprintf("workload-%d", seed)
	players := []string{"ada", "grace", "edsger", "barbara"}

	betRepo := bet.NewRepository(pool)
	accounts := ledger.NewRepository(pool, 1000)
	streaks := streak.NewRepository(pool)
	bets := bet.NewService(pool, betRepo, accounts)
	coordinator := settle.NewCoordinator(pool, betRepo, accounts, streaks)
	matcher := match.NewMatcher(betRepo, coordinator, zap.NewNop())
	outboxRepo := outbox.NewRepository(pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Creator(ctx2, bets, gameID, players, stop) })
		g.Go(func() error { return actors.Acceptor(ctx2, bets, gameID, players, stop) })
	}
	g.Go(func() error { return actors.Canceller(ctx2, bets, gameID, stop) })
	g.Go(func() error { return actors.Claimant(ctx2, bets, gameID, stop) })
	g.Go(func() error { return actors.Settler(ctx2, bets, coordinator, gameID, stop) })
	g.Go(func() error { return actors.Settler(ctx2, bets, coordinator, gameID, stop) })
	g.Go(func() error { return actors.Disputer(ctx2, bets, coordinator, gameID, stop) })
	g.Go(func() error { return actors.GameEventFeed(ctx2, matcher, gameID, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, outboxRepo, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// End-of-game sweep, then one final oracle pass over the quiesced state
	if _, err := bets.ExpireOpenBets(context.Background(), gameID); err != nil {
		t.Fatalf("expire sweep: %v", err)
	}
	name, row, err := oracles.Run(context.Background(), pool)
	if err != nil {
		t.Fatalf("final oracle error: %v", err)
	}
	if name != "" {
		dumpRecent(t, context.Background(), pool)
		t.Fatalf("Oracle %s failed after quiesce. First row: %s (seed=%d)", name, row, seed)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"bets", `SELECT id, status, amount, creator, acceptor, resolved_by FROM bets ORDER BY created_at DESC LIMIT 50`},
		{"accounts", `SELECT player_name, balance, current_streak, best_streak, bets_won, bets_lost FROM accounts ORDER BY player_name`},
		{"ledger_entries", `SELECT id, bet_id, player_name, entry_type, amount FROM ledger_entries ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
