// Package sequence tracks the lifecycle of a single game: the ordered
// protocol events belonging to one challenge and the adjudication state
// derived from them.
//
// A GameSequence is created only from a Challenge event and mutated only
// through AddEvent and ForfeitPlayer. Everything else is read-only, which
// keeps the one-writer-per-challenge invariant local to this type.
package sequence

import (
	"errors"
	"fmt"
	"time"

	"github.com/wagermint/arbiter/internal/commitment"
	"github.com/wagermint/arbiter/internal/protocol"
)

// defaultRequiredFinalEvents is the number of Final events needed to
// complete a sequence unless the game policy overrides it.
const defaultRequiredFinalEvents = 2

var (
	// ErrNotChallenge indicates a sequence was created from a
	// non-challenge event.
	ErrNotChallenge = errors.New("sequence root must be a challenge event")
	// ErrIllegalTransition indicates an event kind not legal in the
	// current state.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrSequenceTerminal indicates the sequence already reached a
	// terminal state.
	ErrSequenceTerminal = errors.New("sequence is already terminal")
	// ErrDuplicateEvent indicates the event id is already part of the
	// sequence.
	ErrDuplicateEvent = errors.New("event already applied to sequence")
	// ErrReferenceNotFound indicates the event's declared reference
	// does not resolve inside this sequence.
	ErrReferenceNotFound = errors.New("event reference not found in sequence")
	// ErrUnknownAuthor indicates the event author is not a registered
	// player.
	ErrUnknownAuthor = errors.New("event author is not a registered player")
	// ErrSelfAccept indicates the challenger tried to accept their own
	// challenge.
	ErrSelfAccept = errors.New("challenger cannot accept their own challenge")
	// ErrNotAPlayer indicates a forfeit target outside the sequence.
	ErrNotAPlayer = errors.New("pubkey is not a player in this sequence")
	// ErrNoCounterpart indicates a forfeit before the second player was
	// bound, leaving nobody to award.
	ErrNoCounterpart = errors.New("no counterpart player to award")
)

// ValidationResult is the outcome of a sequence audit. An empty Problems
// slice means the sequence passed.
type ValidationResult struct {
	Valid    bool
	Problems []string
}

func (r *ValidationResult) addProblem(format string, args ...any) {
	r.Valid = false
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Option configures a new sequence.
type Option func(*GameSequence)

// WithClock overrides the activity clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *GameSequence) { s.clock = clock }
}

// WithRequiredFinalEvents overrides how many Final events complete the
// sequence. Values below one are ignored.
func WithRequiredFinalEvents(n int) Option {
	return func(s *GameSequence) {
		if n >= 1 {
			s.requiredFinals = n
		}
	}
}

// GameSequence is the unit of adjudication for one challenge.
type GameSequence struct {
	challengeID string
	// players[0] is the challenger; players[1] is empty until an
	// Accept event binds the accepter.
	players [2]string
	events  []*protocol.Event
	byID    map[string]*protocol.Event
	state   State
	// winner is set only in terminal states; empty means no winner
	// (a draw or an expired sequence).
	winner string

	createdAt    time.Time
	lastActivity time.Time

	deadlines      Deadlines
	expiry         time.Time
	requiredFinals int
	finalCount     int

	clock func() time.Time
}

// New creates a sequence from its originating Challenge event.
func New(challenge *protocol.Event, opts ...Option) (*GameSequence, error) {
	if challenge == nil || challenge.Kind != protocol.KindChallenge || challenge.Challenge == nil {
		return nil, ErrNotChallenge
	}

	s := &GameSequence{
		challengeID:    challenge.ID,
		players:        [2]string{challenge.Author, ""},
		events:         []*protocol.Event{challenge},
		byID:           map[string]*protocol.Event{challenge.ID: challenge},
		state:          StateWaitingForAccept,
		createdAt:      challenge.CreatedAt,
		deadlines:      resolveDeadlines(challenge.Challenge.TimeoutConfig),
		requiredFinals: defaultRequiredFinalEvents,
		clock:          time.Now,
	}
	if challenge.Challenge.Expiry != nil {
		s.expiry = challenge.Challenge.Expiry.Time()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastActivity = s.clock()
	return s, nil
}

// AddEvent validates and applies a protocol event to the sequence.
func (s *GameSequence) AddEvent(ev *protocol.Event) error {
	if ev == nil {
		return errors.New("event is required")
	}
	if s.state.Terminal() {
		return ErrSequenceTerminal
	}
	if _, exists := s.byID[ev.ID]; exists {
		return ErrDuplicateEvent
	}

	next, legal := candidateState(s.state, ev.Kind)
	if !legal {
		return fmt.Errorf("%w: %s + kind %d", ErrIllegalTransition, s.state, ev.Kind)
	}

	if err := s.resolveReference(ev); err != nil {
		return err
	}
	if err := s.checkAuthor(ev); err != nil {
		return err
	}

	if ev.Kind == protocol.KindAccept {
		s.players[1] = ev.Author
	}
	if ev.Kind == protocol.KindFinal {
		s.finalCount++
		if s.finalCount >= s.requiredFinals {
			next = StateComplete
		}
	}

	s.events = append(s.events, ev)
	s.byID[ev.ID] = ev
	s.state = next
	s.lastActivity = s.clock()
	return nil
}

// resolveReference checks that the event's declared reference resolves to
// an event already present in this sequence.
func (s *GameSequence) resolveReference(ev *protocol.Event) error {
	switch ev.Kind {
	case protocol.KindAccept:
		if ev.Accept.ChallengeID != s.challengeID {
			return fmt.Errorf("%w: accept references challenge %s", ErrReferenceNotFound, ev.Accept.ChallengeID)
		}
	case protocol.KindMove:
		if _, ok := s.byID[ev.Move.PreviousEventID]; !ok {
			return fmt.Errorf("%w: move references %s", ErrReferenceNotFound, ev.Move.PreviousEventID)
		}
	case protocol.KindFinal:
		if ev.Final.GameSequenceRoot != s.challengeID {
			return fmt.Errorf("%w: final references root %s", ErrReferenceNotFound, ev.Final.GameSequenceRoot)
		}
	}
	return nil
}

func (s *GameSequence) checkAuthor(ev *protocol.Event) error {
	if ev.Kind == protocol.KindAccept {
		if ev.Author == s.players[0] {
			return ErrSelfAccept
		}
		return nil
	}
	if ev.Author != s.players[0] && (s.players[1] == "" || ev.Author != s.players[1]) {
		return ErrUnknownAuthor
	}
	return nil
}

// ForfeitPlayer terminates the sequence against the given player; the
// other registered player wins.
func (s *GameSequence) ForfeitPlayer(p string) error {
	if s.state.Terminal() {
		return ErrSequenceTerminal
	}
	var other string
	switch p {
	case s.players[0]:
		other = s.players[1]
	case s.players[1]:
		if p == "" {
			return ErrNotAPlayer
		}
		other = s.players[0]
	default:
		return ErrNotAPlayer
	}
	if other == "" {
		return ErrNoCounterpart
	}

	s.state = StateForfeited
	s.winner = other
	s.lastActivity = s.clock()
	return nil
}

// ValidateIntegrity audits the whole sequence: cross-references, event
// counts against the declared state, and author membership.
func (s *GameSequence) ValidateIntegrity() ValidationResult {
	result := ValidationResult{Valid: true}

	var challenges, accepts, moves, finals int
	for _, ev := range s.events {
		switch ev.Kind {
		case protocol.KindChallenge:
			challenges++
		case protocol.KindAccept:
			accepts++
		case protocol.KindMove:
			moves++
		case protocol.KindFinal:
			finals++
		}

		if ref := ev.Reference(); ref != "" {
			if ev.Kind == protocol.KindMove {
				if _, ok := s.byID[ref]; !ok {
					result.addProblem("event %s references missing event %s", ev.ID, ref)
				}
			} else if ref != s.challengeID {
				result.addProblem("event %s references foreign root %s", ev.ID, ref)
			}
		}

		if ev.Kind != protocol.KindChallenge {
			if err := s.checkAuthor(ev); err != nil {
				result.addProblem("event %s: %v", ev.ID, err)
			}
		}
	}

	if challenges != 1 {
		result.addProblem("expected exactly one challenge event, found %d", challenges)
	}
	if accepts > 1 {
		result.addProblem("expected at most one accept event, found %d", accepts)
	}

	switch s.state {
	case StateWaitingForAccept:
		if accepts != 0 || moves != 0 || finals != 0 {
			result.addProblem("waiting_for_accept holds unexpected events (%d accepts, %d moves, %d finals)", accepts, moves, finals)
		}
	case StateInProgress:
		if accepts != 1 {
			result.addProblem("in_progress requires exactly one accept, found %d", accepts)
		}
		if finals != 0 {
			result.addProblem("in_progress holds %d final events", finals)
		}
	case StateWaitingForFinal:
		if accepts != 1 {
			result.addProblem("waiting_for_final requires exactly one accept, found %d", accepts)
		}
		if finals < 1 || finals >= s.requiredFinals {
			result.addProblem("waiting_for_final holds %d finals with %d required", finals, s.requiredFinals)
		}
	case StateComplete:
		if finals < s.requiredFinals {
			result.addProblem("complete requires %d finals, found %d", s.requiredFinals, finals)
		}
	}

	if s.state != StateWaitingForAccept && s.players[1] == "" {
		result.addProblem("state %s with unbound accepter", s.state)
	}

	return result
}

// ChallengeID returns the originating challenge event id.
func (s *GameSequence) ChallengeID() string { return s.challengeID }

// Players returns the challenger and accepter pubkeys; the second entry
// is empty until an Accept arrives.
func (s *GameSequence) Players() [2]string { return s.players }

// State returns the current adjudication state.
func (s *GameSequence) State() State { return s.state }

// Winner returns the terminal winner pubkey, or empty when the sequence
// is not terminal or ended without a winner.
func (s *GameSequence) Winner() string { return s.winner }

// CreatedAt returns the challenge's creation time.
func (s *GameSequence) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns when the sequence last changed.
func (s *GameSequence) LastActivity() time.Time { return s.lastActivity }

// Events returns the applied events in arrival order. The slice is a
// copy; the events themselves are immutable.
func (s *GameSequence) Events() []*protocol.Event {
	events := make([]*protocol.Event, len(s.events))
	copy(events, s.events)
	return events
}

// EventIDs returns the applied event ids in arrival order.
func (s *GameSequence) EventIDs() []string {
	ids := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		ids = append(ids, ev.ID)
	}
	return ids
}

// LatestEvent returns the most recently applied event.
func (s *GameSequence) LatestEvent() *protocol.Event {
	return s.events[len(s.events)-1]
}

// GameType returns the challenge's declared game type.
func (s *GameSequence) GameType() string {
	return s.events[0].Challenge.GameType
}

// FinalCount returns the number of Final events applied so far.
func (s *GameSequence) FinalCount() int { return s.finalCount }

// RequiredFinalEvents returns how many Final events complete the
// sequence.
func (s *GameSequence) RequiredFinalEvents() int { return s.requiredFinals }

// CommitmentHashesFor returns the per-token commitment hashes the given
// player published in their Challenge or Accept event.
func (s *GameSequence) CommitmentHashesFor(pubkey string) []string {
	for _, ev := range s.events {
		switch {
		case ev.Challenge != nil && ev.Author == pubkey:
			return ev.Challenge.CommitmentHashes
		case ev.Accept != nil && ev.Author == pubkey:
			return ev.Accept.CommitmentHashes
		}
	}
	return nil
}

// RevealedTokensBy returns every token the given player revealed across
// their Move events, in reveal order.
func (s *GameSequence) RevealedTokensBy(pubkey string) []commitment.Token {
	var tokens []commitment.Token
	for _, ev := range s.events {
		if ev.Move == nil || ev.Author != pubkey {
			continue
		}
		if ev.Move.MoveType == protocol.MoveTypeReveal {
			tokens = append(tokens, ev.Move.RevealedTokens...)
		}
	}
	return tokens
}

// FinalAuthors returns the set of players that published a Final event.
func (s *GameSequence) FinalAuthors() map[string]bool {
	authors := make(map[string]bool)
	for _, ev := range s.events {
		if ev.Final != nil {
			authors[ev.Author] = true
		}
	}
	return authors
}

// DeclaredCommitmentMethod returns the aggregation method declared by the
// first Final event that names one, or empty.
func (s *GameSequence) DeclaredCommitmentMethod() commitment.Method {
	for _, ev := range s.events {
		if ev.Final != nil && ev.Final.CommitmentMethod != "" {
			return ev.Final.CommitmentMethod
		}
	}
	return ""
}
