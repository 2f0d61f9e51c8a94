package game

import (
	"crypto/sha256"

	"github.com/wagermint/arbiter/internal/sequence"
)

// TypeCoinflip is the registry name of the coin flip game.
const TypeCoinflip = "coinflip"

// Coinflip resolves a single fair coin flip from both players' revealed
// tokens: neither player can bias the flip without knowing the other's
// tokens at commitment time.
type Coinflip struct {
	strategy
}

// NewCoinflip creates the coin flip strategy.
func NewCoinflip() *Coinflip { return &Coinflip{} }

// IsSequenceComplete requires a complete sequence with reveals from both
// players.
func (g *Coinflip) IsSequenceComplete(seq *sequence.GameSequence) bool {
	return seq.State() == sequence.StateComplete && bothPlayersRevealed(seq)
}

// DetermineWinner flips the coin: the parity of the combined reveal
// digest picks a side. A forfeited sequence keeps its forfeiture winner.
func (g *Coinflip) DetermineWinner(seq *sequence.GameSequence) (string, bool) {
	if seq.State() == sequence.StateForfeited {
		return seq.Winner(), seq.Winner() != ""
	}
	if !bothPlayersRevealed(seq) {
		return "", false
	}

	players := seq.Players()
	challengerDigest, err := revealDigest(seq, players[0])
	if err != nil {
		return "", false
	}
	accepterDigest, err := revealDigest(seq, players[1])
	if err != nil {
		return "", false
	}

	combined := sha256.Sum256(append(challengerDigest[:], accepterDigest[:]...))
	if combined[len(combined)-1]&1 == 0 {
		return players[0], true
	}
	return players[1], true
}
