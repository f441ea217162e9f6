package settle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"sidepot/bet"
	"sidepot/ledger"
)

func strPtr(s string) *string { return &s }

func activeBet(id string, amount int64) bet.Bet {
	return bet.Bet{
		ID:       id,
		GameID:   "g1",
		Creator:  "ada",
		Acceptor: strPtr("grace"),
		Amount:   amount,
		Status:   bet.StatusActive,
	}
}

func TestSettle_CreatorWins(t *testing.T) {
	pool := &fakePool{}
	bets := &fakeBets{resolved: activeBet("bet-1", 100)}
	led := &fakeLedger{}
	streaks := &fakeStreaks{streak: 5}
	c := NewCoordinator(pool, bets, led, streaks)

	rec, err := c.Settle(context.Background(), "bet-1", true, bet.ResolvedManual)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.ID != "bet-1" {
		t.Fatalf("unexpected bet returned: %+v", rec)
	}

	// streak 5 -> 1.5x multiplier on a 100 stake
	if led.transferAmount != 150 {
		t.Errorf("payout = %d, want 150", led.transferAmount)
	}
	if led.transferWinner != "ada" || led.transferLoser != "grace" {
		t.Errorf("transfer parties = %s/%s, want ada/grace", led.transferWinner, led.transferLoser)
	}
	if len(streaks.wins) != 1 || streaks.wins[0] != "ada" {
		t.Errorf("expected win recorded for ada, got %v", streaks.wins)
	}
	if len(streaks.losses) != 1 || streaks.losses[0] != "grace" {
		t.Errorf("expected loss recorded for grace, got %v", streaks.losses)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	if !pool.tx.executedMatching("INSERT INTO outbox") {
		t.Errorf("expected settled event enqueued in the same transaction")
	}
}

func TestSettle_AcceptorWins(t *testing.T) {
	pool := &fakePool{}
	bets := &fakeBets{resolved: activeBet("bet-1", 40)}
	led := &fakeLedger{}
	streaks := &fakeStreaks{streak: 0}
	c := NewCoordinator(pool, bets, led, streaks)

	if _, err := c.Settle(context.Background(), "bet-1", false, bet.ResolvedAuto); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if led.transferWinner != "grace" || led.transferLoser != "ada" {
		t.Errorf("transfer parties = %s/%s, want grace/ada", led.transferWinner, led.transferLoser)
	}
	if led.transferAmount != 40 {
		t.Errorf("payout = %d, want 40", led.transferAmount)
	}
}

func TestSettle_InsufficientFundsRollsBack(t *testing.T) {
	pool := &fakePool{}
	bets := &fakeBets{resolved: activeBet("bet-1", 100)}
	led := &fakeLedger{transferErr: ledger.ErrInsufficientFunds}
	streaks := &fakeStreaks{}
	c := NewCoordinator(pool, bets, led, streaks)

	_, err := c.Settle(context.Background(), "bet-1", true, bet.ResolvedManual)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback, transaction committed")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback to run")
	}
	if len(streaks.wins) != 0 || len(streaks.losses) != 0 {
		t.Errorf("expected no streak updates after failed transfer")
	}
}

func TestSettle_RaceLoserGetsInvalidTransition(t *testing.T) {
	pool := &fakePool{}
	bets := &fakeBets{resolveErr: bet.ErrInvalidTransition}
	c := NewCoordinator(pool, bets, &fakeLedger{}, &fakeStreaks{})

	_, err := c.Settle(context.Background(), "bet-1", true, bet.ResolvedAuto)
	if !errors.Is(err, bet.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback for race loser")
	}
}

func TestSettle_RejectsBadProvenance(t *testing.T) {
	pool := &fakePool{}
	c := NewCoordinator(pool, &fakeBets{}, &fakeLedger{}, &fakeStreaks{})

	for _, by := range []bet.ResolvedBy{bet.ResolvedExpired, bet.ResolvedRefunded, "guess"} {
		if _, err := c.Settle(context.Background(), "bet-1", true, by); err == nil {
			t.Errorf("expected rejection for provenance %q", by)
		}
	}
	if pool.begun != 0 {
		t.Errorf("expected no transaction for invalid provenance")
	}
}

func TestRefund_RequiresParticipant(t *testing.T) {
	pool := &fakePool{}
	bets := &fakeBets{current: activeBet("bet-1", 50)}
	c := NewCoordinator(pool, bets, &fakeLedger{}, &fakeStreaks{})

	_, err := c.Refund(context.Background(), "bet-1", "mallory")
	if !errors.Is(err, bet.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if pool.begun != 0 {
		t.Errorf("expected no transaction for unauthorized dispute")
	}
}

func TestRefund_ParticipantSucceeds(t *testing.T) {
	pool := &fakePool{}
	disputed := activeBet("bet-1", 50)
	disputed.Status = bet.StatusDisputed
	bets := &fakeBets{current: activeBet("bet-1", 50), disputedRec: disputed}
	led := &fakeLedger{}
	c := NewCoordinator(pool, bets, led, &fakeStreaks{})

	rec, err := c.Refund(context.Background(), "bet-1", "grace")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if rec.Status != bet.StatusDisputed {
		t.Errorf("status = %s, want disputed", rec.Status)
	}
	if led.transferAmount != 0 {
		t.Errorf("refund must not move currency, transferred %d", led.transferAmount)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	if !pool.tx.executedMatching("INSERT INTO outbox") {
		t.Errorf("expected disputed event enqueued")
	}
}

func TestRefund_SystemCaller(t *testing.T) {
	pool := &fakePool{}
	disputed := activeBet("bet-1", 50)
	disputed.Status = bet.StatusDisputed
	bets := &fakeBets{current: activeBet("bet-1", 50), disputedRec: disputed}
	c := NewCoordinator(pool, bets, &fakeLedger{}, &fakeStreaks{})

	if _, err := c.Refund(context.Background(), "bet-1", ""); err != nil {
		t.Fatalf("system refund: %v", err)
	}
}

type fakeBets struct {
	current     bet.Bet
	resolved    bet.Bet
	disputedRec bet.Bet
	resolveErr  error
	disputeErr  error
}

func (f *fakeBets) GetByID(ctx context.Context, id string) (bet.Bet, error) {
	if f.current.ID == "" {
		return bet.Bet{}, bet.ErrNotFound
	}
	return f.current, nil
}

func (f *fakeBets) MarkResolved(ctx context.Context, tx pgx.Tx, id string, creatorWon bool, by bet.ResolvedBy) (bet.Bet, error) {
	if f.resolveErr != nil {
		return bet.Bet{}, f.resolveErr
	}
	rec := f.resolved
	rec.Status = bet.StatusResolved
	rec.Result = &creatorWon
	rec.ResolvedBy = &by
	return rec, nil
}

func (f *fakeBets) MarkDisputed(ctx context.Context, tx pgx.Tx, id string) (bet.Bet, error) {
	if f.disputeErr != nil {
		return bet.Bet{}, f.disputeErr
	}
	return f.disputedRec, nil
}

type fakeLedger struct {
	transferErr    error
	transferWinner string
	transferLoser  string
	transferAmount int64
}

func (f *fakeLedger) EnsureAccount(ctx context.Context, tx pgx.Tx, player string) error {
	return nil
}

func (f *fakeLedger) Transfer(ctx context.Context, tx pgx.Tx, betID, winner, loser string, amount int64) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.transferWinner = winner
	f.transferLoser = loser
	f.transferAmount = amount
	return nil
}

type fakeStreaks struct {
	streak int
	wins   []string
	losses []string
}

func (f *fakeStreaks) StreakForUpdate(ctx context.Context, tx pgx.Tx, player string) (int, error) {
	return f.streak, nil
}

func (f *fakeStreaks) RecordWin(ctx context.Context, tx pgx.Tx, player string) error {
	f.wins = append(f.wins, player)
	return nil
}

func (f *fakeStreaks) RecordLoss(ctx context.Context, tx pgx.Tx, player string) error {
	f.losses = append(f.losses, player)
	return nil
}

type fakePool struct {
	begun int
	tx    *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.begun++
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
	execs     []string
}

func (f *fakeTx) executedMatching(fragment string) bool {
	for _, sql := range f.execs {
		if strings.Contains(sql, fragment) {
			return true
		}
	}
	return false
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
