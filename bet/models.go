package bet

import (
	"errors"
	"time"
)

// Status enumerates the lifecycle states of a wager.
type Status string

const (
	StatusOpen              Status = "open"
	StatusActive            Status = "active"
	StatusPendingResolution Status = "pending_resolution"
	StatusResolved          Status = "resolved"
	StatusCancelled         Status = "cancelled"
	StatusExpired           Status = "expired"
	StatusDisputed          Status = "disputed"
)

// Timing controls whether the auto-resolution matcher may settle a bet
// without a manual claim.
type Timing string

const (
	TimingManual Timing = "manual"
	TimingAuto   Timing = "auto"
)

// ResolvedBy records the provenance of a terminal transition.
type ResolvedBy string

const (
	ResolvedAuto     ResolvedBy = "auto"
	ResolvedManual   ResolvedBy = "manual"
	ResolvedExpired  ResolvedBy = "expired"
	ResolvedRefunded ResolvedBy = "refunded"
)

// Known preset outcome templates. The matcher treats the preset type as an
// opaque key, so new templates only need the card-play engine to emit them.
const (
	PresetBidMade    = "bid_made"    // offense made (or missed) their bid this round
	PresetBonusTrick = "bonus_trick" // a player took the trick holding the marked bonus card
	PresetGameWinner = "game_winner" // a player finished the match on top
)

// Kind is the preset-vs-custom variant of a wager. The two concrete kinds
// are Preset and Custom; the unexported method seals the set so a Bet can
// only carry fields meaningful for its variant.
type Kind interface {
	kindName() string
}

// Preset is a system-defined outcome template, optionally scoped to a
// single round or trick. An unset round means the bet spans the whole game.
type Preset struct {
	Type  string
	Round *int
	Trick *int
}

func (Preset) kindName() string { return "preset" }

// Custom is a free-form, player-described wager. Custom bets can only be
// settled manually.
type Custom struct {
	Description string
}

func (Custom) kindName() string { return "custom" }

// Bet mirrors the bets table.
type Bet struct {
	ID            string
	GameID        string
	Kind          Kind
	Timing        Timing
	Creator       string
	Acceptor      *string
	Amount        int64
	Prediction    *string
	TargetPlayer  *string
	Status        Status
	Result        *bool
	ResolvedBy    *ResolvedBy
	ClaimedWinner *string
	CreatedAt     time.Time
	AcceptedAt    *time.Time
	ResolvedAt    *time.Time
}

// IsParty reports whether player is the creator or the acceptor.
func (b Bet) IsParty(player string) bool {
	if player == b.Creator {
		return true
	}
	return b.Acceptor != nil && *b.Acceptor == player
}

// Stake bounds, inclusive.
const (
	MinAmount = 1
	MaxAmount = 1000
)

var (
	// ErrNotFound is returned when no bet row exists for the identifier.
	ErrNotFound = errors.New("bet: not found")
	// ErrInvalidTransition signals the stored status did not match the
	// transition's source state.
	ErrInvalidTransition = errors.New("bet: invalid transition")
	// ErrUnauthorized signals the caller is not allowed to act on the bet.
	ErrUnauthorized = errors.New("bet: caller not authorized")
	// ErrAlreadyClaimed signals a claim on a bet already pending resolution.
	ErrAlreadyClaimed = errors.New("bet: win already claimed")
	// ErrAlreadyResolved signals an action on a bet that has been settled.
	ErrAlreadyResolved = errors.New("bet: already resolved")
)
