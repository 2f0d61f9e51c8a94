// Package game defines the pluggable per-game capability and the shipped
// strategies. The engine is game-agnostic: it resolves a strategy from
// the registry by the challenge's declared game type and never
// special-cases a game by name.
package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/wagermint/arbiter/internal/sequence"
)

// ErrUnknownGameType indicates no strategy is registered for a game type.
var ErrUnknownGameType = errors.New("unknown game type")

// Game is the per-game strategy consumed by the engine.
type Game interface {
	// DecodeCommitmentOpening splits raw commitment-opening bytes into
	// the individual committed pieces.
	DecodeCommitmentOpening(data []byte) ([][]byte, error)

	// ValidateSequence audits a finished or in-flight sequence against
	// the game's rules, including aggregate commitment verification.
	ValidateSequence(seq *sequence.GameSequence) sequence.ValidationResult

	// IsSequenceComplete reports whether the sequence carries enough
	// material to determine a winner.
	IsSequenceComplete(seq *sequence.GameSequence) bool

	// DetermineWinner returns the winning pubkey. The second return is
	// false when the game ended without a winner.
	DetermineWinner(seq *sequence.GameSequence) (string, bool)

	// RequiredFinalEvents returns how many Final events complete a
	// sequence of this game.
	RequiredFinalEvents() int

	// ShouldTimeoutForfeit reports whether an overdue phase should
	// forfeit the stalled player.
	ShouldTimeoutForfeit(phase sequence.State, overdue time.Duration) bool
}

// Registry maps game type names to strategies.
type Registry struct {
	games map[string]Game
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]Game)}
}

// Register adds a strategy under the given game type name.
func (r *Registry) Register(gameType string, g Game) error {
	if gameType == "" {
		return errors.New("game type name is required")
	}
	if g == nil {
		return errors.New("game strategy is required")
	}
	if _, exists := r.games[gameType]; exists {
		return fmt.Errorf("game type %q already registered", gameType)
	}
	r.games[gameType] = g
	return nil
}

// Lookup resolves a strategy by game type.
func (r *Registry) Lookup(gameType string) (Game, error) {
	g, ok := r.games[gameType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGameType, gameType)
	}
	return g, nil
}

// DefaultRegistry returns a registry with every shipped strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Registration of built-ins cannot collide.
	_ = r.Register(TypeCoinflip, NewCoinflip())
	_ = r.Register(TypeDice, NewDice())
	_ = r.Register(TypeCards, NewCards())
	return r
}
