package match

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sidepot/bet"
)

// Event is one discrete outcome emitted by the card-play engine. Outcome
// carries the preset-specific result token; Player names the player the
// event concerns, when the preset is about a player.
type Event struct {
	GameID  string
	Preset  string
	Round   *int
	Trick   *int
	Outcome string
	Player  string
}

// CandidateFinder locates the active auto-timed bets an event may settle.
type CandidateFinder interface {
	FindAutoCandidates(ctx context.Context, gameID, presetType string, round *int) ([]bet.Bet, error)
}

// Settler drives the terminal transition for each matched bet.
type Settler interface {
	Settle(ctx context.Context, betID string, creatorWon bool, by bet.ResolvedBy) (bet.Bet, error)
}

// Matcher bridges game events to settlement without a manual claim.
type Matcher struct {
	bets    CandidateFinder
	settler Settler
	log     *zap.Logger
}

func NewMatcher(bets CandidateFinder, settler Settler, log *zap.Logger) *Matcher {
	return &Matcher{bets: bets, settler: settler, log: log}
}

// Evaluate decides the creator's outcome for a candidate bet against an
// event. Target-player bets win for the creator when the event names their
// target; outcome bets compare the creator's prediction with the event's
// outcome token. The second return is false when the bet cannot be
// evaluated against this event.
func Evaluate(b bet.Bet, ev Event) (creatorWon, ok bool) {
	if b.TargetPlayer != nil {
		if ev.Player == "" {
			return false, false
		}
		return ev.Player == *b.TargetPlayer, true
	}
	if b.Prediction != nil && ev.Outcome != "" {
		return *b.Prediction == ev.Outcome, true
	}
	return false, false
}

// HandleEvent settles every matching candidate with auto provenance and
// returns how many bets were settled. Candidates settle concurrently; a
// candidate that loses the race to another resolution is skipped, which is
// what makes replayed or overlapping events idempotent.
func (m *Matcher) HandleEvent(ctx context.Context, ev Event) (int, error) {
	if ev.GameID == "" || ev.Preset == "" {
		return 0, fmt.Errorf("match: event game id and preset required")
	}

	candidates, err := m.bets.FindAutoCandidates(ctx, ev.GameID, ev.Preset, ev.Round)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	var settled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			creatorWon, ok := Evaluate(cand, ev)
			if !ok {
				m.log.Warn("match: candidate not evaluable against event",
					zap.String("bet_id", cand.ID),
					zap.String("preset", ev.Preset))
				return nil
			}

			_, err := m.settler.Settle(gctx, cand.ID, creatorWon, bet.ResolvedAuto)
			switch {
			case err == nil:
				settled.Add(1)
				return nil
			case errors.Is(err, bet.ErrInvalidTransition), errors.Is(err, bet.ErrAlreadyResolved):
				// Another resolution got there first.
				m.log.Info("match: candidate already settled",
					zap.String("bet_id", cand.ID))
				return nil
			default:
				return err
			}
		})
	}

	if err := g.Wait(); err != nil {
		return int(settled.Load()), err
	}
	return int(settled.Load()), nil
}
