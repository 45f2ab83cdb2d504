package brackets

import "errors"

var (
	ErrNotEnoughParticipants = errors.New("not enough participants to generate a bracket")
	ErrInvalidBracketSize    = errors.New("participant count must be a power of two")
	ErrDuplicateParticipant  = errors.New("participant appears more than once")
)

// BracketMatch is one pairing produced by a generator, before it is persisted.
type BracketMatch struct {
	Round        int
	OrderInRound int
	Player1ID    int
	Player2ID    int
}

type BracketGenerator interface {
	// FirstRound pairs the seeded participants for round 1.
	FirstRound(participants []int) ([]BracketMatch, error)
	// NextRound pairs winners of round-1 matches in the order of their source matches.
	NextRound(round int, winners []int) ([]BracketMatch, error)

	GetName() string
}
