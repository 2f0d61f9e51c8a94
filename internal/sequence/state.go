package sequence

import "github.com/wagermint/arbiter/internal/protocol"

// State is the adjudication state of a game sequence.
type State int

const (
	// StateWaitingForAccept means the challenge is open and unanswered.
	StateWaitingForAccept State = iota
	// StateInProgress means both players are bound and moves are legal.
	StateInProgress
	// StateWaitingForFinal means at least one Final has arrived and the
	// sequence is waiting for the remaining Final events.
	StateWaitingForFinal
	// StateComplete is terminal: enough Final events were applied.
	StateComplete
	// StateForfeited is terminal: a player was forfeited by fraud or
	// timeout and the other player won.
	StateForfeited
)

func (s State) String() string {
	switch s {
	case StateWaitingForAccept:
		return "waiting_for_accept"
	case StateInProgress:
		return "in_progress"
	case StateWaitingForFinal:
		return "waiting_for_final"
	case StateComplete:
		return "complete"
	case StateForfeited:
		return "forfeited"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events may be applied.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateForfeited
}

// transitions maps (current state, event kind) to the candidate next
// state. Pairs absent from the table are illegal. The WaitingForFinal +
// Final entry is provisional: it resolves to Complete once the Final
// count reaches the sequence's required number.
var transitions = map[State]map[int]State{
	StateWaitingForAccept: {
		protocol.KindAccept: StateInProgress,
	},
	StateInProgress: {
		protocol.KindMove:  StateInProgress,
		protocol.KindFinal: StateWaitingForFinal,
	},
	StateWaitingForFinal: {
		protocol.KindFinal: StateWaitingForFinal,
	},
}

// candidateState returns the next state for applying an event of the
// given kind, or false when the transition is illegal.
func candidateState(current State, kind int) (State, bool) {
	next, ok := transitions[current][kind]
	return next, ok
}
