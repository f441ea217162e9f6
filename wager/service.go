// Package wager exposes the wagering core's operation set to the API layer
// and the card-play engine. Each call returns the updated record or one of
// the typed errors from the bet and ledger packages.
package wager

import (
	"context"

	"sidepot/bet"
	"sidepot/ledger"
	"sidepot/match"
	"sidepot/settle"
	"sidepot/streak"
)

// Service composes the lifecycle controller, settlement coordinator,
// matcher, ledger, and streak tracker behind one surface.
type Service struct {
	bets        *bet.Service
	coordinator *settle.Coordinator
	matcher     *match.Matcher
	ledger      *ledger.Repository
	streaks     *streak.Repository
}

func NewService(
	bets *bet.Service,
	coordinator *settle.Coordinator,
	matcher *match.Matcher,
	ledgerRepo *ledger.Repository,
	streaks *streak.Repository,
) *Service {
	return &Service{
		bets:        bets,
		coordinator: coordinator,
		matcher:     matcher,
		ledger:      ledgerRepo,
		streaks:     streaks,
	}
}

// CreateBet opens a new wager.
func (s *Service) CreateBet(ctx context.Context, params bet.CreateParams) (bet.Bet, error) {
	return s.bets.Create(ctx, params)
}

// AcceptBet activates an open wager for the acceptor.
func (s *Service) AcceptBet(ctx context.Context, betID, acceptor string) (bet.Bet, error) {
	return s.bets.Accept(ctx, betID, acceptor)
}

// CancelBet retracts an open wager on behalf of its creator.
func (s *Service) CancelBet(ctx context.Context, betID, caller string) (bet.Bet, error) {
	return s.bets.Cancel(ctx, betID, caller)
}

// ClaimWin asserts a win on an active wager, pending confirmation.
func (s *Service) ClaimWin(ctx context.Context, betID, claimant string) (bet.Bet, error) {
	return s.bets.ClaimWin(ctx, betID, claimant)
}

// Dispute contests an active or claimed wager; both parties keep their
// stakes. Only a participant may dispute.
func (s *Service) Dispute(ctx context.Context, betID, caller string) (bet.Bet, error) {
	return s.coordinator.Refund(ctx, betID, caller)
}

// Resolve manually settles a wager, confirming a claim or closing an
// active bet outright.
func (s *Service) Resolve(ctx context.Context, betID string, creatorWon bool) (bet.Bet, error) {
	return s.coordinator.Settle(ctx, betID, creatorWon, bet.ResolvedManual)
}

// NotifyEvent feeds a game event to the auto-resolution matcher and
// returns how many bets it settled.
func (s *Service) NotifyEvent(ctx context.Context, ev match.Event) (int, error) {
	return s.matcher.HandleEvent(ctx, ev)
}

// ExpireOpenBets sweeps every still-open bet of a finished game.
func (s *Service) ExpireOpenBets(ctx context.Context, gameID string) ([]bet.Bet, error) {
	return s.bets.ExpireOpenBets(ctx, gameID)
}

// GetBet returns one wager.
func (s *Service) GetBet(ctx context.Context, betID string) (bet.Bet, error) {
	return s.bets.Get(ctx, betID)
}

// ListBets returns every wager of a game, newest first.
func (s *Service) ListBets(ctx context.Context, gameID string) ([]bet.Bet, error) {
	return s.bets.ListByGame(ctx, gameID)
}

// BalanceOf reports a player's balance, the starting balance if they have
// never wagered.
func (s *Service) BalanceOf(ctx context.Context, player string) (int64, error) {
	return s.ledger.BalanceOf(ctx, player)
}

// StreakOf reports a player's current consecutive-win streak.
func (s *Service) StreakOf(ctx context.Context, player string) (int, error) {
	return s.streaks.StreakOf(ctx, player)
}

// AccountOf returns the full account record for a player.
func (s *Service) AccountOf(ctx context.Context, player string) (ledger.Account, error) {
	return s.ledger.AccountOf(ctx, player)
}

// Grant credits a player outside any wager (operational top-up).
func (s *Service) Grant(ctx context.Context, player string, amount int64) (int64, error) {
	return s.ledger.Grant(ctx, player, amount)
}
