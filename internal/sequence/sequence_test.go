package sequence

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wagermint/arbiter/internal/commitment"
	"github.com/wagermint/arbiter/internal/protocol"
)

var (
	challenger = strings.Repeat("a", 64)
	accepter   = strings.Repeat("b", 64)
	stranger   = strings.Repeat("c", 64)
)

func eventID(prefix byte, n int) string {
	return strings.Repeat(string(prefix), 62) + string(rune('0'+n/10)) + string(rune('0'+n%10))
}

func challengeEvent(cfg *protocol.TimeoutConfig) *protocol.Event {
	return &protocol.Event{
		ID:        eventID('e', 0),
		Author:    challenger,
		CreatedAt: time.Unix(1700000000, 0),
		Kind:      protocol.KindChallenge,
		Challenge: &protocol.ChallengePayload{
			GameType:      "coinflip",
			TimeoutConfig: cfg,
		},
	}
}

func acceptEvent(n int) *protocol.Event {
	return &protocol.Event{
		ID:        eventID('e', n),
		Author:    accepter,
		CreatedAt: time.Unix(1700000010, 0),
		Kind:      protocol.KindAccept,
		Accept:    &protocol.AcceptPayload{ChallengeID: eventID('e', 0)},
	}
}

func moveEvent(n int, author, previous string) *protocol.Event {
	return &protocol.Event{
		ID:        eventID('e', n),
		Author:    author,
		CreatedAt: time.Unix(1700000020, 0),
		Kind:      protocol.KindMove,
		Move: &protocol.MovePayload{
			PreviousEventID: previous,
			MoveType:        protocol.MoveTypeMove,
		},
	}
}

func finalEvent(n int, author string) *protocol.Event {
	return &protocol.Event{
		ID:        eventID('e', n),
		Author:    author,
		CreatedAt: time.Unix(1700000030, 0),
		Kind:      protocol.KindFinal,
		Final:     &protocol.FinalPayload{GameSequenceRoot: eventID('e', 0)},
	}
}

func newTestSequence(t *testing.T, opts ...Option) *GameSequence {
	t.Helper()
	seq, err := New(challengeEvent(nil), opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return seq
}

func advanceToInProgress(t *testing.T, seq *GameSequence) {
	t.Helper()
	if err := seq.AddEvent(acceptEvent(1)); err != nil {
		t.Fatalf("AddEvent(accept) returned error: %v", err)
	}
}

// TestNewRequiresChallenge ensures only challenge events create
// sequences.
func TestNewRequiresChallenge(t *testing.T) {
	if _, err := New(acceptEvent(1)); !errors.Is(err, ErrNotChallenge) {
		t.Fatalf("New(accept) error = %v, want %v", err, ErrNotChallenge)
	}
	if _, err := New(nil); !errors.Is(err, ErrNotChallenge) {
		t.Fatalf("New(nil) error = %v, want %v", err, ErrNotChallenge)
	}

	seq := newTestSequence(t)
	if seq.State() != StateWaitingForAccept {
		t.Fatalf("initial state = %s, want %s", seq.State(), StateWaitingForAccept)
	}
	if players := seq.Players(); players[0] != challenger || players[1] != "" {
		t.Fatalf("players = %v", players)
	}
}

// TestMoveBeforeAcceptRejected ensures the transition table blocks moves
// on open challenges.
func TestMoveBeforeAcceptRejected(t *testing.T) {
	seq := newTestSequence(t)
	err := seq.AddEvent(moveEvent(1, challenger, eventID('e', 0)))
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("AddEvent error = %v, want %v", err, ErrIllegalTransition)
	}
}

// TestAcceptBindsSecondPlayer ensures the accepter slot binds on accept
// and self-accepts are rejected.
func TestAcceptBindsSecondPlayer(t *testing.T) {
	seq := newTestSequence(t)

	self := acceptEvent(1)
	self.Author = challenger
	if err := seq.AddEvent(self); !errors.Is(err, ErrSelfAccept) {
		t.Fatalf("self accept error = %v, want %v", err, ErrSelfAccept)
	}

	advanceToInProgress(t, seq)
	if seq.State() != StateInProgress {
		t.Fatalf("state = %s, want %s", seq.State(), StateInProgress)
	}
	if players := seq.Players(); players[1] != accepter {
		t.Fatalf("accepter = %q, want %q", players[1], accepter)
	}
}

// TestMoveChainReferences ensures moves must reference events already in
// the sequence.
func TestMoveChainReferences(t *testing.T) {
	seq := newTestSequence(t)
	advanceToInProgress(t, seq)

	orphan := moveEvent(2, challenger, eventID('f', 9))
	if err := seq.AddEvent(orphan); !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("orphan move error = %v, want %v", err, ErrReferenceNotFound)
	}

	if err := seq.AddEvent(moveEvent(2, challenger, eventID('e', 1))); err != nil {
		t.Fatalf("chained move returned error: %v", err)
	}
	if err := seq.AddEvent(moveEvent(3, accepter, eventID('e', 2))); err != nil {
		t.Fatalf("second chained move returned error: %v", err)
	}
	if seq.State() != StateInProgress {
		t.Fatalf("state = %s, want %s", seq.State(), StateInProgress)
	}
}

// TestUnknownAuthorRejected ensures only registered players may move.
func TestUnknownAuthorRejected(t *testing.T) {
	seq := newTestSequence(t)
	advanceToInProgress(t, seq)

	intruder := moveEvent(2, stranger, eventID('e', 1))
	if err := seq.AddEvent(intruder); !errors.Is(err, ErrUnknownAuthor) {
		t.Fatalf("intruder move error = %v, want %v", err, ErrUnknownAuthor)
	}
}

// TestDuplicateEventRejected ensures redelivered events are detected.
func TestDuplicateEventRejected(t *testing.T) {
	seq := newTestSequence(t)
	advanceToInProgress(t, seq)
	if err := seq.AddEvent(acceptEvent(1)); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("duplicate accept error = %v, want %v", err, ErrDuplicateEvent)
	}
}

// TestFinalEventsCompleteSequence ensures completion happens only after
// the required count of Final events.
func TestFinalEventsCompleteSequence(t *testing.T) {
	seq := newTestSequence(t)
	advanceToInProgress(t, seq)

	if err := seq.AddEvent(finalEvent(2, challenger)); err != nil {
		t.Fatalf("first final returned error: %v", err)
	}
	if seq.State() != StateWaitingForFinal {
		t.Fatalf("state after one final = %s, want %s", seq.State(), StateWaitingForFinal)
	}

	if err := seq.AddEvent(finalEvent(3, accepter)); err != nil {
		t.Fatalf("second final returned error: %v", err)
	}
	if seq.State() != StateComplete {
		t.Fatalf("state after two finals = %s, want %s", seq.State(), StateComplete)
	}
	if seq.Winner() != "" {
		t.Fatalf("complete winner = %q, want empty", seq.Winner())
	}

	if err := seq.AddEvent(finalEvent(4, challenger)); !errors.Is(err, ErrSequenceTerminal) {
		t.Fatalf("final after completion error = %v, want %v", err, ErrSequenceTerminal)
	}
}

// TestRequiredFinalEventsOption ensures the per-game final count applies.
func TestRequiredFinalEventsOption(t *testing.T) {
	seq := newTestSequence(t, WithRequiredFinalEvents(1))
	advanceToInProgress(t, seq)
	if err := seq.AddEvent(finalEvent(2, challenger)); err != nil {
		t.Fatalf("final returned error: %v", err)
	}
	if seq.State() != StateComplete {
		t.Fatalf("state = %s, want %s", seq.State(), StateComplete)
	}
}

// TestForfeitPlayer ensures forfeiture awards the other player and
// rejects outsiders.
func TestForfeitPlayer(t *testing.T) {
	seq := newTestSequence(t)
	advanceToInProgress(t, seq)

	if err := seq.ForfeitPlayer(stranger); !errors.Is(err, ErrNotAPlayer) {
		t.Fatalf("forfeit stranger error = %v, want %v", err, ErrNotAPlayer)
	}

	if err := seq.ForfeitPlayer(accepter); err != nil {
		t.Fatalf("ForfeitPlayer returned error: %v", err)
	}
	if seq.State() != StateForfeited {
		t.Fatalf("state = %s, want %s", seq.State(), StateForfeited)
	}
	if seq.Winner() != challenger {
		t.Fatalf("winner = %q, want challenger", seq.Winner())
	}

	if err := seq.ForfeitPlayer(challenger); !errors.Is(err, ErrSequenceTerminal) {
		t.Fatalf("forfeit after terminal error = %v, want %v", err, ErrSequenceTerminal)
	}
}

// TestForfeitBeforeAcceptFails ensures forfeiture needs a counterpart.
func TestForfeitBeforeAcceptFails(t *testing.T) {
	seq := newTestSequence(t)
	if err := seq.ForfeitPlayer(challenger); !errors.Is(err, ErrNoCounterpart) {
		t.Fatalf("forfeit error = %v, want %v", err, ErrNoCounterpart)
	}
}

// TestValidateIntegrity covers the full audit on a healthy sequence and
// a corrupted one.
func TestValidateIntegrity(t *testing.T) {
	seq := newTestSequence(t)
	advanceToInProgress(t, seq)
	if err := seq.AddEvent(moveEvent(2, challenger, eventID('e', 1))); err != nil {
		t.Fatalf("move returned error: %v", err)
	}

	result := seq.ValidateIntegrity()
	if !result.Valid {
		t.Fatalf("healthy sequence failed audit: %v", result.Problems)
	}

	// Corrupt the internal event list the way a broken ingest would.
	seq.events = append(seq.events, moveEvent(3, stranger, eventID('e', 2)))
	result = seq.ValidateIntegrity()
	if result.Valid {
		t.Fatal("audit accepted a foreign-author event")
	}
}

// TestRevealAccessors ensures commitment hashes and revealed tokens are
// recovered per player.
func TestRevealAccessors(t *testing.T) {
	challenge := challengeEvent(nil)
	challenge.Challenge.CommitmentHashes = []string{strings.Repeat("1", 64)}
	seq, err := New(challenge)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	accept := acceptEvent(1)
	accept.Accept.CommitmentHashes = []string{strings.Repeat("2", 64)}
	if err := seq.AddEvent(accept); err != nil {
		t.Fatalf("AddEvent(accept) returned error: %v", err)
	}

	reveal := moveEvent(2, accepter, eventID('e', 1))
	reveal.Move.MoveType = protocol.MoveTypeReveal
	reveal.Move.RevealedTokens = []commitment.Token{{Amount: 4, Secret: "s"}}
	if err := seq.AddEvent(reveal); err != nil {
		t.Fatalf("AddEvent(reveal) returned error: %v", err)
	}

	if got := seq.CommitmentHashesFor(challenger); len(got) != 1 || got[0] != strings.Repeat("1", 64) {
		t.Fatalf("challenger hashes = %v", got)
	}
	if got := seq.CommitmentHashesFor(accepter); len(got) != 1 || got[0] != strings.Repeat("2", 64) {
		t.Fatalf("accepter hashes = %v", got)
	}
	if got := seq.RevealedTokensBy(accepter); len(got) != 1 || got[0].Amount != 4 {
		t.Fatalf("accepter tokens = %v", got)
	}
	if got := seq.RevealedTokensBy(challenger); len(got) != 0 {
		t.Fatalf("challenger tokens = %v, want none", got)
	}
}
