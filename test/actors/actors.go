package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"sidepot/bet"
	"sidepot/ledger"
	"sidepot/match"
	"sidepot/outbox"
	"sidepot/settle"
)

// conflictTolerated reports whether an error is an expected loss in the
// status-guard race rather than a workload failure.
func conflictTolerated(err error) bool {
	return errors.Is(err, bet.ErrNotFound) ||
		errors.Is(err, bet.ErrInvalidTransition) ||
		errors.Is(err, bet.ErrUnauthorized) ||
		errors.Is(err, bet.ErrAlreadyClaimed) ||
		errors.Is(err, bet.ErrAlreadyResolved) ||
		errors.Is(err, ledger.ErrInsufficientFunds)
}

func pause(lo, spread int) { time.Sleep(time.Duration(lo+rand.Intn(spread)) * time.Millisecond) }

// Creator opens a stream of bets under contention, alternating manual custom
// wagers with auto preset ones the matcher can settle.
func Creator(ctx context.Context, bets *bet.Service, gameID string, players []string, stop <-chan struct{}) error {
	outcomes := []string{"made", "set"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		params := bet.CreateParams{
			GameID:  gameID,
			Creator: players[rand.Intn(len(players))],
			Amount:  int64(1 + rand.Intn(50)),
		}
		if rand.Intn(2) == 0 {
			round := 1 + rand.Intn(5)
			prediction := outcomes[rand.Intn(len(outcomes))]
			params.Timing = bet.TimingAuto
			params.Kind = bet.Preset{Type: bet.PresetBidMade, Round: &round}
			params.Prediction = &prediction
		} else {
			params.Timing = bet.TimingManual
			params.Kind = bet.Custom{Description: fmt.Sprintf("workload wager %d", rand.Int63())}
		}

		if _, err := bets.Create(ctx, params); err != nil && !conflictTolerated(err) {
			return fmt.Errorf("creator: %w", err)
		}
		pause(10, 20)
	}
}

// Acceptor races other acceptors (and cancellers) over open bets.
func Acceptor(ctx context.Context, bets *bet.Service, gameID string, players []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		all, err := bets.ListByGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("acceptor list: %w", err)
		}
		for _, b := range all {
			if b.Status != bet.StatusOpen {
				continue
			}
			acceptor := players[rand.Intn(len(players))]
			if acceptor == b.Creator {
				continue
			}
			if _, err := bets.Accept(ctx, b.ID, acceptor); err != nil && !conflictTolerated(err) {
				return fmt.Errorf("acceptor: %w", err)
			}
			break
		}
		pause(15, 30)
	}
}

// Canceller retracts open bets on behalf of their creators, racing acceptance.
func Canceller(ctx context.Context, bets *bet.Service, gameID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		all, err := bets.ListByGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("canceller list: %w", err)
		}
		for _, b := range all {
			if b.Status != bet.StatusOpen || rand.Intn(3) != 0 {
				continue
			}
			if _, err := bets.Cancel(ctx, b.ID, b.Creator); err != nil && !conflictTolerated(err) {
				return fmt.Errorf("canceller: %w", err)
			}
			break
		}
		pause(25, 40)
	}
}

// Claimant asserts wins on active bets so the settler and disputer have
// pending resolutions to fight over.
func Claimant(ctx context.Context, bets *bet.Service, gameID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		all, err := bets.ListByGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("claimant list: %w", err)
		}
		for _, b := range all {
			if b.Status != bet.StatusActive || b.Timing != bet.TimingManual || b.Acceptor == nil {
				continue
			}
			claimant := b.Creator
			if rand.Intn(2) == 0 {
				claimant = *b.Acceptor
			}
			if _, err := bets.ClaimWin(ctx, b.ID, claimant); err != nil && !conflictTolerated(err) {
				return fmt.Errorf("claimant: %w", err)
			}
			break
		}
		pause(20, 30)
	}
}

// Settler settles claimed bets with a random outcome; concurrent settlers
// lose the status-guard race and tolerate it.
func Settler(ctx context.Context, bets *bet.Service, coordinator *settle.Coordinator, gameID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		all, err := bets.ListByGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("settler list: %w", err)
		}
		for _, b := range all {
			if b.Status != bet.StatusPendingResolution {
				continue
			}
			if _, err := coordinator.Settle(ctx, b.ID, rand.Intn(2) == 0, bet.ResolvedManual); err != nil && !conflictTolerated(err) {
				return fmt.Errorf("settler: %w", err)
			}
			break
		}
		pause(20, 40)
	}
}

// Disputer occasionally refunds a claimed bet, racing the settler.
func Disputer(ctx context.Context, bets *bet.Service, coordinator *settle.Coordinator, gameID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		all, err := bets.ListByGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("disputer list: %w", err)
		}
		for _, b := range all {
			if b.Status != bet.StatusPendingResolution || rand.Intn(4) != 0 {
				continue
			}
			if _, err := coordinator.Refund(ctx, b.ID, ""); err != nil && !conflictTolerated(err) {
				return fmt.Errorf("disputer: %w", err)
			}
			break
		}
		pause(150, 100)
	}
}

// GameEventFeed pushes synthetic round outcomes through the auto-resolution
// matcher.
func GameEventFeed(ctx context.Context, matcher *match.Matcher, gameID string, stop <-chan struct{}) error {
	outcomes := []string{"made", "set"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		round := 1 + rand.Intn(5)
		if _, err := matcher.HandleEvent(ctx, match.Event{
			GameID:  gameID,
			Preset:  bet.PresetBidMade,
			Round:   &round,
			Outcome: outcomes[rand.Intn(len(outcomes))],
		}); err != nil && !conflictTolerated(err) {
			return fmt.Errorf("event feed: %w", err)
		}
		pause(50, 50)
	}
}

// OutboxWorker drains pending outbox rows, simulating occasional delivery
// failures.
func OutboxWorker(ctx context.Context, repo *outbox.Repository, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		pending, err := repo.ListPending(ctx, 10)
		if err != nil {
			return fmt.Errorf("outbox worker list: %w", err)
		}
		for _, m := range pending {
			if rand.Intn(10) == 0 {
				_ = repo.MarkFailed(ctx, m.ID, "simulated delivery failure")
				continue
			}
			if err := repo.MarkSent(ctx, m.ID); err != nil {
				return fmt.Errorf("outbox worker mark: %w", err)
			}
		}
		pause(100, 50)
	}
}
