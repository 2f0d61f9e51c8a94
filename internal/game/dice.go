package game

import (
	"math/rand"

	"github.com/wagermint/arbiter/internal/random"
	"github.com/wagermint/arbiter/internal/sequence"
)

// TypeDice is the registry name of the dice game.
const TypeDice = "dice"

// diceCount and diceSides define the 2d6 roll each player gets.
const (
	diceCount = 2
	diceSides = 6
)

// Dice rolls 2d6 per player, seeded from that player's revealed tokens.
// The roll is deterministic with respect to the revealed token set, so
// every adjudicator derives the same totals.
type Dice struct {
	strategy
}

// NewDice creates the dice strategy.
func NewDice() *Dice { return &Dice{} }

// IsSequenceComplete requires a complete sequence with reveals from both
// players.
func (g *Dice) IsSequenceComplete(seq *sequence.GameSequence) bool {
	return seq.State() == sequence.StateComplete && bothPlayersRevealed(seq)
}

// DetermineWinner awards the higher roll; equal totals are a draw.
func (g *Dice) DetermineWinner(seq *sequence.GameSequence) (string, bool) {
	if seq.State() == sequence.StateForfeited {
		return seq.Winner(), seq.Winner() != ""
	}
	if !bothPlayersRevealed(seq) {
		return "", false
	}

	players := seq.Players()
	challengerTotal, err := rollFor(seq, players[0])
	if err != nil {
		return "", false
	}
	accepterTotal, err := rollFor(seq, players[1])
	if err != nil {
		return "", false
	}

	switch {
	case challengerTotal > accepterTotal:
		return players[0], true
	case accepterTotal > challengerTotal:
		return players[1], true
	default:
		return "", false
	}
}

// rollFor derives the player's dice total from their reveal digest.
func rollFor(seq *sequence.GameSequence, player string) (int, error) {
	digest, err := revealDigest(seq, player)
	if err != nil {
		return 0, err
	}
	rng := rand.New(rand.NewSource(random.SeedFromDigest(digest)))
	total := 0
	for i := 0; i < diceCount; i++ {
		total += rng.Intn(diceSides) + 1
	}
	return total, nil
}
