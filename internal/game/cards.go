package game

import (
	"math/rand"

	"github.com/wagermint/arbiter/internal/random"
	"github.com/wagermint/arbiter/internal/sequence"
)

// TypeCards is the registry name of the high-card game.
const TypeCards = "cards"

// deckSize and ranks describe a standard 52-card deck.
const (
	deckSize = 52
	ranks    = 13
)

// Cards deals each player one card from their reveal digest and awards
// the higher rank, breaking rank ties by suit. Identical cards are a
// draw.
type Cards struct {
	strategy
}

// NewCards creates the high-card strategy.
func NewCards() *Cards { return &Cards{} }

// IsSequenceComplete requires a complete sequence with reveals from both
// players.
func (g *Cards) IsSequenceComplete(seq *sequence.GameSequence) bool {
	return seq.State() == sequence.StateComplete && bothPlayersRevealed(seq)
}

// DetermineWinner compares the dealt cards.
func (g *Cards) DetermineWinner(seq *sequence.GameSequence) (string, bool) {
	if seq.State() == sequence.StateForfeited {
		return seq.Winner(), seq.Winner() != ""
	}
	if !bothPlayersRevealed(seq) {
		return "", false
	}

	players := seq.Players()
	challengerCard, err := dealCard(seq, players[0])
	if err != nil {
		return "", false
	}
	accepterCard, err := dealCard(seq, players[1])
	if err != nil {
		return "", false
	}

	challengerRank, challengerSuit := challengerCard%ranks, challengerCard/ranks
	accepterRank, accepterSuit := accepterCard%ranks, accepterCard/ranks
	switch {
	case challengerRank != accepterRank:
		if challengerRank > accepterRank {
			return players[0], true
		}
		return players[1], true
	case challengerSuit != accepterSuit:
		if challengerSuit > accepterSuit {
			return players[0], true
		}
		return players[1], true
	default:
		return "", false
	}
}

// dealCard derives the player's card from their reveal digest.
func dealCard(seq *sequence.GameSequence, player string) (int, error) {
	digest, err := revealDigest(seq, player)
	if err != nil {
		return 0, err
	}
	rng := rand.New(rand.NewSource(random.SeedFromDigest(digest)))
	return rng.Intn(deckSize), nil
}
