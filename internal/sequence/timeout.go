package sequence

import (
	"time"

	"github.com/wagermint/arbiter/internal/protocol"
)

// defaultPhaseTimeout applies to any phase the challenge's timeout config
// does not override.
const defaultPhaseTimeout = 300 * time.Second

// Deadlines holds the per-phase timeout durations for a sequence.
type Deadlines struct {
	Accept time.Duration
	Move   time.Duration
	Final  time.Duration
}

// resolveDeadlines maps a challenge's optional timeout config onto
// concrete durations, defaulting each phase independently.
func resolveDeadlines(cfg *protocol.TimeoutConfig) Deadlines {
	deadlines := Deadlines{
		Accept: defaultPhaseTimeout,
		Move:   defaultPhaseTimeout,
		Final:  defaultPhaseTimeout,
	}
	if cfg == nil {
		return deadlines
	}
	if cfg.AcceptTimeoutSecs > 0 {
		deadlines.Accept = time.Duration(cfg.AcceptTimeoutSecs) * time.Second
	}
	if cfg.MoveTimeoutSecs > 0 {
		deadlines.Move = time.Duration(cfg.MoveTimeoutSecs) * time.Second
	}
	if cfg.FinalTimeoutSecs > 0 {
		deadlines.Final = time.Duration(cfg.FinalTimeoutSecs) * time.Second
	}
	return deadlines
}

// TimeoutViolation records a phase deadline that has passed.
type TimeoutViolation struct {
	// Phase is the sequence state whose deadline passed.
	Phase State
	// Deadline is when the phase should have progressed.
	Deadline time.Time
	// Now is the observation time the violation was derived from.
	Now time.Time
	// AffectedPlayer is the player responsible for the missing
	// progress, when one can be attributed.
	AffectedPlayer string
}

// Overdue returns how far past the deadline the observation was.
func (v TimeoutViolation) Overdue() time.Duration {
	return v.Now.Sub(v.Deadline)
}

// ShouldForfeit reports whether the violation exceeds the grace period.
func (v TimeoutViolation) ShouldForfeit(grace time.Duration) bool {
	return v.Overdue() > grace
}

// DeadlineConfig returns the resolved per-phase timeout durations.
func (s *GameSequence) DeadlineConfig() Deadlines { return s.deadlines }

// CheckTimeouts derives the timeout violations observable at the given
// time. It never mutates the sequence.
func (s *GameSequence) CheckTimeouts(now time.Time) []TimeoutViolation {
	if s.state.Terminal() {
		return nil
	}

	var violations []TimeoutViolation
	switch s.state {
	case StateWaitingForAccept:
		deadline := s.createdAt.Add(s.deadlines.Accept)
		if !s.expiry.IsZero() && s.expiry.Before(deadline) {
			deadline = s.expiry
		}
		if now.After(deadline) {
			violations = append(violations, TimeoutViolation{
				Phase:    StateWaitingForAccept,
				Deadline: deadline,
				Now:      now,
			})
		}
	case StateInProgress:
		deadline := s.lastActivity.Add(s.deadlines.Move)
		if now.After(deadline) {
			violations = append(violations, TimeoutViolation{
				Phase:          StateInProgress,
				Deadline:       deadline,
				Now:            now,
				AffectedPlayer: s.stalledPlayer(),
			})
		}
	case StateWaitingForFinal:
		deadline := s.lastActivity.Add(s.deadlines.Final)
		if now.After(deadline) {
			violations = append(violations, TimeoutViolation{
				Phase:          StateWaitingForFinal,
				Deadline:       deadline,
				Now:            now,
				AffectedPlayer: s.missingFinalPlayer(),
			})
		}
	}
	return violations
}

// stalledPlayer attributes an in-progress stall to whichever player did
// not author the most recent event. This is a deliberate simplification:
// there is no per-player response deadline, only a who-moved-last
// heuristic.
func (s *GameSequence) stalledPlayer() string {
	last := s.LatestEvent()
	if last.Author == s.players[0] {
		return s.players[1]
	}
	return s.players[0]
}

// missingFinalPlayer returns the player who has not yet published a
// Final event, or empty when both have.
func (s *GameSequence) missingFinalPlayer() string {
	authors := s.FinalAuthors()
	for _, player := range s.players {
		if player != "" && !authors[player] {
			return player
		}
	}
	return ""
}
