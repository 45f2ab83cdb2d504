package brackets

import (
	"fmt"
	"math/bits"
)

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// FirstRound pairs participants [0,1], [2,3], ... in seed order. No shuffling:
// the same input always yields the same bracket.
func (g *SingleEliminationGenerator) FirstRound(participants []int) ([]BracketMatch, error) {
	if err := validateEntrants(participants); err != nil {
		return nil, err
	}
	return pairUp(1, participants), nil
}

func (g *SingleEliminationGenerator) NextRound(round int, winners []int) ([]BracketMatch, error) {
	if round < 2 {
		return nil, fmt.Errorf("next round must be at least 2, got %d", round)
	}
	if err := validateEntrants(winners); err != nil {
		return nil, fmt.Errorf("round %d: %w", round, err)
	}
	return pairUp(round, winners), nil
}

// TotalRounds returns how many rounds a bracket of n entrants needs.
func TotalRounds(n int) int {
	if n < 2 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func validateEntrants(ids []int) error {
	n := len(ids)
	if n < 2 {
		return fmt.Errorf("%w (found %d, min 2 required)", ErrNotEnoughParticipants, n)
	}
	if n&(n-1) != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidBracketSize, n)
	}
	seen := make(map[int]struct{}, n)
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateParticipant, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func pairUp(round int, ids []int) []BracketMatch {
	matches := make([]BracketMatch, 0, len(ids)/2)
	for i := 0; i < len(ids); i += 2 {
		matches = append(matches, BracketMatch{
			Round:        round,
			OrderInRound: i/2 + 1,
			Player1ID:    ids[i],
			Player2ID:    ids[i+1],
		})
	}
	return matches
}
