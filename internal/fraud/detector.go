// Package fraud screens protocol events for cheating and drives the
// periodic timeout sweep.
//
// Fraud here means a player's revealed tokens contradict the commitment
// hashes they published earlier, or fail mint validation. Detection is
// immediate: a fraudulent reveal forfeits its author without waiting for
// Final events.
package fraud

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/wagermint/arbiter/internal/commitment"
	"github.com/wagermint/arbiter/internal/mint"
	"github.com/wagermint/arbiter/internal/protocol"
	"github.com/wagermint/arbiter/internal/sequence"
)

// Report describes detected fraud within a sequence.
type Report struct {
	// ChallengeID identifies the affected sequence.
	ChallengeID string
	// Offender is the player to forfeit.
	Offender string
	// EventID is the event that exposed the fraud.
	EventID string
	// Position is the index of the offending token within the
	// offender's published commitment list, or -1 when the fraud is not
	// positional.
	Position int
	// Reason is a human-readable description for the failure record.
	Reason string
}

// TimeoutPolicy decides whether an overdue phase forfeits the stalled
// player. Games implement it.
type TimeoutPolicy interface {
	ShouldTimeoutForfeit(phase sequence.State, overdue time.Duration) bool
}

// SweepAction is the outcome of a timeout sweep over one sequence.
type SweepAction int

const (
	// ActionNone means the sequence is healthy.
	ActionNone SweepAction = iota
	// ActionExpire removes an unanswered challenge without forfeiture;
	// no stake was ever locked.
	ActionExpire
	// ActionForfeit forfeits the stalled player.
	ActionForfeit
)

// SweepResult names the action derived for one sequence.
type SweepResult struct {
	ChallengeID string
	Action      SweepAction
	// Player is the player to forfeit when Action is ActionForfeit.
	Player    string
	Violation sequence.TimeoutViolation
}

// Detector screens moves and sweeps sequences for timeouts.
type Detector struct {
	mint mint.Mint
}

// NewDetector creates a detector backed by the given mint capability.
func NewDetector(m mint.Mint) *Detector {
	return &Detector{mint: m}
}

// ScreenMove checks a just-applied Move event for fraud. It returns a
// non-nil Report when fraud was detected, and an error only for
// infrastructure failures (the mint being unreachable), which are not
// fraud.
func (d *Detector) ScreenMove(ctx context.Context, seq *sequence.GameSequence, ev *protocol.Event) (*Report, error) {
	if ev == nil || ev.Move == nil || ev.Move.MoveType != protocol.MoveTypeReveal {
		return nil, nil
	}
	tokens := ev.Move.RevealedTokens
	if len(tokens) == 0 {
		return nil, nil
	}

	if d.mint != nil {
		valid, err := d.mint.ValidateTokens(ctx, tokens)
		if err != nil {
			return nil, fmt.Errorf("validate revealed tokens: %w", err)
		}
		if !valid {
			return &Report{
				ChallengeID: seq.ChallengeID(),
				Offender:    ev.Author,
				EventID:     ev.ID,
				Position:    -1,
				Reason:      "revealed tokens rejected by mint",
			}, nil
		}
	}

	published := seq.CommitmentHashesFor(ev.Author)
	if len(tokens) > len(published) {
		return &Report{
			ChallengeID: seq.ChallengeID(),
			Offender:    ev.Author,
			EventID:     ev.ID,
			Position:    -1,
			Reason:      fmt.Sprintf("revealed %d tokens against %d published commitments", len(tokens), len(published)),
		}, nil
	}

	// Positional check: each revealed token must reproduce the
	// commitment hash at its index. This is deliberately distinct from
	// the aggregate Commitment.Verify used by post-hoc validators.
	for i, token := range tokens {
		digest, err := commitment.TokenDigest(token)
		if err != nil {
			return nil, fmt.Errorf("digest revealed token %d: %w", i, err)
		}
		if hex.EncodeToString(digest[:]) != published[i] {
			return &Report{
				ChallengeID: seq.ChallengeID(),
				Offender:    ev.Author,
				EventID:     ev.ID,
				Position:    i,
				Reason:      fmt.Sprintf("revealed token %d does not match published commitment", i),
			}, nil
		}
	}

	return nil, nil
}

// SweepSequence derives the timeout action for one active sequence at the
// given observation time. It never mutates the sequence.
func (d *Detector) SweepSequence(seq *sequence.GameSequence, now time.Time, policy TimeoutPolicy) SweepResult {
	none := SweepResult{ChallengeID: seq.ChallengeID(), Action: ActionNone}

	violations := seq.CheckTimeouts(now)
	if len(violations) == 0 {
		return none
	}
	violation := violations[0]

	switch violation.Phase {
	case sequence.StateWaitingForAccept:
		// Unanswered challenges expire without a forfeiture gate.
		return SweepResult{
			ChallengeID: seq.ChallengeID(),
			Action:      ActionExpire,
			Violation:   violation,
		}
	case sequence.StateInProgress, sequence.StateWaitingForFinal:
		if violation.AffectedPlayer == "" {
			return none
		}
		if policy != nil && !policy.ShouldTimeoutForfeit(violation.Phase, violation.Overdue()) {
			return none
		}
		return SweepResult{
			ChallengeID: seq.ChallengeID(),
			Action:      ActionForfeit,
			Player:      violation.AffectedPlayer,
			Violation:   violation,
		}
	}
	return none
}
