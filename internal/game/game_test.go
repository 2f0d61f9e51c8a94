package game

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wagermint/arbiter/internal/commitment"
	"github.com/wagermint/arbiter/internal/protocol"
	"github.com/wagermint/arbiter/internal/sequence"
)

var (
	challenger = strings.Repeat("a", 64)
	accepter   = strings.Repeat("b", 64)
)

func eventID(n int) string {
	return strings.Repeat("e", 62) + string(rune('0'+n/10)) + string(rune('0'+n%10))
}

func digestsOf(t *testing.T, tokens []commitment.Token) []string {
	t.Helper()
	digests := make([]string, 0, len(tokens))
	for _, token := range tokens {
		digest, err := commitment.TokenDigest(token)
		if err != nil {
			t.Fatalf("TokenDigest returned error: %v", err)
		}
		digests = append(digests, hex.EncodeToString(digest[:]))
	}
	return digests
}

// playedSequence builds a complete sequence where both players revealed
// their committed tokens and both published Final events.
func playedSequence(t *testing.T, gameType string, challengerTokens, accepterTokens []commitment.Token) *sequence.GameSequence {
	t.Helper()

	challenge := &protocol.Event{
		ID:        eventID(0),
		Author:    challenger,
		CreatedAt: time.Unix(1700000000, 0),
		Kind:      protocol.KindChallenge,
		Challenge: &protocol.ChallengePayload{
			GameType:         gameType,
			CommitmentHashes: digestsOf(t, challengerTokens),
		},
	}
	seq, err := sequence.New(challenge)
	if err != nil {
		t.Fatalf("sequence.New returned error: %v", err)
	}

	events := []*protocol.Event{
		{
			ID: eventID(1), Author: accepter, CreatedAt: time.Unix(1700000001, 0), Kind: protocol.KindAccept,
			Accept: &protocol.AcceptPayload{ChallengeID: eventID(0), CommitmentHashes: digestsOf(t, accepterTokens)},
		},
		{
			ID: eventID(2), Author: challenger, CreatedAt: time.Unix(1700000002, 0), Kind: protocol.KindMove,
			Move: &protocol.MovePayload{PreviousEventID: eventID(1), MoveType: protocol.MoveTypeReveal, RevealedTokens: challengerTokens},
		},
		{
			ID: eventID(3), Author: accepter, CreatedAt: time.Unix(1700000003, 0), Kind: protocol.KindMove,
			Move: &protocol.MovePayload{PreviousEventID: eventID(2), MoveType: protocol.MoveTypeReveal, RevealedTokens: accepterTokens},
		},
		{
			ID: eventID(4), Author: challenger, CreatedAt: time.Unix(1700000004, 0), Kind: protocol.KindFinal,
			Final: &protocol.FinalPayload{GameSequenceRoot: eventID(0), CommitmentMethod: commitment.MethodConcatenation},
		},
		{
			ID: eventID(5), Author: accepter, CreatedAt: time.Unix(1700000005, 0), Kind: protocol.KindFinal,
			Final: &protocol.FinalPayload{GameSequenceRoot: eventID(0)},
		},
	}
	for _, ev := range events {
		if err := seq.AddEvent(ev); err != nil {
			t.Fatalf("AddEvent(%s) returned error: %v", ev.ID, err)
		}
	}
	return seq
}

func tokensFor(owner string, amounts ...uint64) []commitment.Token {
	tokens := make([]commitment.Token, 0, len(amounts))
	for i, amount := range amounts {
		tokens = append(tokens, commitment.Token{
			Amount:   amount,
			KeysetID: "009a1f293253e41e",
			Secret:   owner + string(rune('0'+i)),
		})
	}
	return tokens
}

// TestRegistry covers registration collisions and unknown lookups.
func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(TypeDice, NewDice()); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := r.Register(TypeDice, NewDice()); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if _, err := r.Lookup("roulette"); !errors.Is(err, ErrUnknownGameType) {
		t.Fatalf("Lookup error = %v, want %v", err, ErrUnknownGameType)
	}

	defaults := DefaultRegistry()
	for _, name := range []string{TypeCoinflip, TypeDice, TypeCards} {
		if _, err := defaults.Lookup(name); err != nil {
			t.Fatalf("default registry missing %s: %v", name, err)
		}
	}
}

// TestDecodeCommitmentOpening splits openings into 32-byte pieces.
func TestDecodeCommitmentOpening(t *testing.T) {
	g := NewCoinflip()
	data := append(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32)...)
	pieces, err := g.DecodeCommitmentOpening(data)
	if err != nil {
		t.Fatalf("DecodeCommitmentOpening returned error: %v", err)
	}
	if len(pieces) != 2 || pieces[0][0] != 1 || pieces[1][0] != 2 {
		t.Fatalf("unexpected pieces: %v", pieces)
	}

	if _, err := g.DecodeCommitmentOpening(data[:33]); !errors.Is(err, ErrInvalidOpening) {
		t.Fatalf("ragged opening error = %v, want %v", err, ErrInvalidOpening)
	}
	if _, err := g.DecodeCommitmentOpening(nil); !errors.Is(err, ErrInvalidOpening) {
		t.Fatalf("empty opening error = %v, want %v", err, ErrInvalidOpening)
	}
}

// TestCoinflipDeterminism ensures the flip is stable and lands on a
// registered player.
func TestCoinflipDeterminism(t *testing.T) {
	g := NewCoinflip()
	seq := playedSequence(t, TypeCoinflip, tokensFor("a", 1, 2), tokensFor("b", 4))

	if !g.IsSequenceComplete(seq) {
		t.Fatal("expected sequence to be complete")
	}
	winner, ok := g.DetermineWinner(seq)
	if !ok {
		t.Fatal("expected a winner")
	}
	if winner != challenger && winner != accepter {
		t.Fatalf("winner %q is not a player", winner)
	}
	for i := 0; i < 3; i++ {
		again, ok := g.DetermineWinner(seq)
		if !ok || again != winner {
			t.Fatalf("flip not deterministic: %q vs %q", again, winner)
		}
	}
}

// TestDiceWinnerDeterminism ensures rolls are stable across repeated
// determinations.
func TestDiceWinnerDeterminism(t *testing.T) {
	g := NewDice()
	seq := playedSequence(t, TypeDice, tokensFor("a", 8), tokensFor("b", 16))

	winner, ok := g.DetermineWinner(seq)
	for i := 0; i < 3; i++ {
		again, okAgain := g.DetermineWinner(seq)
		if okAgain != ok || again != winner {
			t.Fatalf("dice outcome not deterministic: (%q,%v) vs (%q,%v)", again, okAgain, winner, ok)
		}
	}
	if ok && winner != challenger && winner != accepter {
		t.Fatalf("winner %q is not a player", winner)
	}
}

// TestCardsWinnerDeterminism ensures the high-card deal is stable.
func TestCardsWinnerDeterminism(t *testing.T) {
	g := NewCards()
	seq := playedSequence(t, TypeCards, tokensFor("a", 32), tokensFor("b", 64))

	winner, ok := g.DetermineWinner(seq)
	again, okAgain := g.DetermineWinner(seq)
	if okAgain != ok || again != winner {
		t.Fatalf("card outcome not deterministic")
	}
}

// TestForfeitedSequenceKeepsWinner ensures strategies pass through the
// forfeiture winner.
func TestForfeitedSequenceKeepsWinner(t *testing.T) {
	seq := playedSequenceInProgress(t)
	if err := seq.ForfeitPlayer(accepter); err != nil {
		t.Fatalf("ForfeitPlayer returned error: %v", err)
	}
	winner, ok := NewCoinflip().DetermineWinner(seq)
	if !ok || winner != challenger {
		t.Fatalf("winner = (%q,%v), want challenger", winner, ok)
	}
}

// playedSequenceInProgress builds an accepted sequence with no reveals.
func playedSequenceInProgress(t *testing.T) *sequence.GameSequence {
	t.Helper()
	challenge := &protocol.Event{
		ID:        eventID(0),
		Author:    challenger,
		CreatedAt: time.Unix(1700000000, 0),
		Kind:      protocol.KindChallenge,
		Challenge: &protocol.ChallengePayload{GameType: TypeCoinflip},
	}
	seq, err := sequence.New(challenge)
	if err != nil {
		t.Fatalf("sequence.New returned error: %v", err)
	}
	accept := &protocol.Event{
		ID: eventID(1), Author: accepter, CreatedAt: time.Unix(1700000001, 0), Kind: protocol.KindAccept,
		Accept: &protocol.AcceptPayload{ChallengeID: eventID(0)},
	}
	if err := seq.AddEvent(accept); err != nil {
		t.Fatalf("AddEvent returned error: %v", err)
	}
	return seq
}

// TestIncompleteSequenceHasNoWinner ensures winner determination declines
// without reveals from both players.
func TestIncompleteSequenceHasNoWinner(t *testing.T) {
	seq := playedSequenceInProgress(t)
	g := NewDice()
	if g.IsSequenceComplete(seq) {
		t.Fatal("in-progress sequence reported complete")
	}
	if winner, ok := g.DetermineWinner(seq); ok {
		t.Fatalf("unexpected winner %q", winner)
	}
}

// TestValidateSequenceAggregateCommitments covers the aggregate check
// against published per-token hashes.
func TestValidateSequenceAggregateCommitments(t *testing.T) {
	g := NewCoinflip()

	honest := playedSequence(t, TypeCoinflip, tokensFor("a", 1, 2), tokensFor("b", 4))
	if result := g.ValidateSequence(honest); !result.Valid {
		t.Fatalf("honest sequence failed validation: %v", result.Problems)
	}

	// The challenger publishes hashes for tokens they never owned.
	dishonest := playedSequence(t, TypeCoinflip, tokensFor("a", 1), tokensFor("b", 4))
	dishonestChallenge := dishonest.Events()[0]
	dishonestChallenge.Challenge.CommitmentHashes = digestsOf(t, tokensFor("x", 9))
	if result := g.ValidateSequence(dishonest); result.Valid {
		t.Fatal("validation accepted mismatched aggregate commitments")
	}
}

// TestTimeoutPolicy ensures the shared grace window applies.
func TestTimeoutPolicy(t *testing.T) {
	g := NewDice()
	if g.ShouldTimeoutForfeit(sequence.StateInProgress, 10*time.Second) {
		t.Fatal("forfeited inside the grace window")
	}
	if !g.ShouldTimeoutForfeit(sequence.StateInProgress, time.Minute) {
		t.Fatal("did not forfeit past the grace window")
	}
	if g.RequiredFinalEvents() != 2 {
		t.Fatalf("required finals = %d, want 2", g.RequiredFinalEvents())
	}
}
