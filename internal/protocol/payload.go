package protocol

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wagermint/arbiter/internal/commitment"
)

// MoveType distinguishes the three move flavors within a game.
type MoveType string

const (
	// MoveTypeMove is an ordinary game move.
	MoveTypeMove MoveType = "move"
	// MoveTypeCommit publishes additional commitment material.
	MoveTypeCommit MoveType = "commit"
	// MoveTypeReveal opens previously committed tokens.
	MoveTypeReveal MoveType = "reveal"
)

// IsValid reports whether the move type is known.
func (m MoveType) IsValid() bool {
	switch m {
	case MoveTypeMove, MoveTypeCommit, MoveTypeReveal:
		return true
	}
	return false
}

var (
	// ErrMissingReference indicates a payload omitted its required
	// event reference.
	ErrMissingReference = errors.New("payload is missing its event reference")
	// ErrInvalidCommitmentHash indicates a published commitment hash is
	// not a 32-byte hex digest.
	ErrInvalidCommitmentHash = errors.New("commitment hash is not a 32-byte hex digest")
	// ErrInvalidMoveType indicates an unknown move type.
	ErrInvalidMoveType = errors.New("unknown move type")
	// ErrRevealWithoutTokens indicates a reveal move without tokens.
	ErrRevealWithoutTokens = errors.New("reveal move must carry revealed tokens")
	// ErrCommitWithTokens indicates a commit move carrying tokens.
	ErrCommitWithTokens = errors.New("commit move must not carry revealed tokens")
	// ErrInvalidTimeoutConfig indicates a non-positive timeout value.
	ErrInvalidTimeoutConfig = errors.New("timeout values must be positive")
)

// TimeoutConfig carries optional per-phase deadlines, in seconds, declared
// by the challenger.
type TimeoutConfig struct {
	AcceptTimeoutSecs int64 `json:"accept_timeout_secs,omitempty"`
	MoveTimeoutSecs   int64 `json:"move_timeout_secs,omitempty"`
	FinalTimeoutSecs  int64 `json:"final_timeout_secs,omitempty"`
}

func (c *TimeoutConfig) validate() error {
	if c == nil {
		return nil
	}
	if c.AcceptTimeoutSecs < 0 || c.MoveTimeoutSecs < 0 || c.FinalTimeoutSecs < 0 {
		return ErrInvalidTimeoutConfig
	}
	return nil
}

// ChallengePayload is the content of a Challenge event.
type ChallengePayload struct {
	GameType         string           `json:"game_type"`
	CommitmentHashes []string         `json:"commitment_hashes"`
	GameParameters   json.RawMessage  `json:"game_parameters,omitempty"`
	Expiry           *nostr.Timestamp `json:"expiry,omitempty"`
	TimeoutConfig    *TimeoutConfig   `json:"timeout_config,omitempty"`
}

func (p *ChallengePayload) validate() error {
	if p.GameType == "" {
		return errors.New("game_type is required")
	}
	if err := validateCommitmentHashes(p.CommitmentHashes); err != nil {
		return err
	}
	return p.TimeoutConfig.validate()
}

// AcceptPayload is the content of a ChallengeAccept event.
type AcceptPayload struct {
	ChallengeID      string   `json:"challenge_id"`
	CommitmentHashes []string `json:"commitment_hashes"`
}

func (p *AcceptPayload) validate() error {
	if !isEventID(p.ChallengeID) {
		return ErrMissingReference
	}
	return validateCommitmentHashes(p.CommitmentHashes)
}

// MovePayload is the content of a Move event.
type MovePayload struct {
	PreviousEventID string             `json:"previous_event_id"`
	MoveType        MoveType           `json:"move_type"`
	MoveData        json.RawMessage    `json:"move_data,omitempty"`
	RevealedTokens  []commitment.Token `json:"revealed_tokens,omitempty"`
	Deadline        *nostr.Timestamp   `json:"deadline,omitempty"`
}

func (p *MovePayload) validate() error {
	if !isEventID(p.PreviousEventID) {
		return ErrMissingReference
	}
	if !p.MoveType.IsValid() {
		return ErrInvalidMoveType
	}
	if p.MoveType == MoveTypeReveal && len(p.RevealedTokens) == 0 {
		return ErrRevealWithoutTokens
	}
	if p.MoveType == MoveTypeCommit && len(p.RevealedTokens) > 0 {
		return ErrCommitWithTokens
	}
	return nil
}

// FinalPayload is the content of a Final event.
type FinalPayload struct {
	GameSequenceRoot string            `json:"game_sequence_root"`
	CommitmentMethod commitment.Method `json:"commitment_method,omitempty"`
	FinalState       json.RawMessage   `json:"final_state,omitempty"`
}

func (p *FinalPayload) validate() error {
	if !isEventID(p.GameSequenceRoot) {
		return ErrMissingReference
	}
	if p.CommitmentMethod != "" && !p.CommitmentMethod.IsValid() {
		return commitment.ErrInvalidMethod
	}
	return nil
}

// RewardPayload is the content of a Result event announcing a winner and
// the winner-locked reward tokens.
type RewardPayload struct {
	GameSequenceRoot   string             `json:"game_sequence_root"`
	WinnerPubkey       string             `json:"winner_pubkey"`
	RewardTokens       []commitment.Token `json:"reward_tokens,omitempty"`
	UnlockInstructions string             `json:"unlock_instructions,omitempty"`
}

// FailurePayload is the content of a Result event announcing that the
// sequence could not be adjudicated to a reward.
type FailurePayload struct {
	GameSequenceRoot string `json:"game_sequence_root"`
	FailureReason    string `json:"failure_reason"`
	FailedEventID    string `json:"failed_event_id,omitempty"`
}

// ResultPayload is the decoded content of a Result event: exactly one of
// Reward or Failure is set.
type ResultPayload struct {
	Reward  *RewardPayload
	Failure *FailurePayload
}

func validateCommitmentHashes(hashes []string) error {
	for _, hash := range hashes {
		if len(hash) != 64 {
			return ErrInvalidCommitmentHash
		}
		if _, err := hex.DecodeString(hash); err != nil {
			return ErrInvalidCommitmentHash
		}
	}
	return nil
}

// isEventID reports whether s looks like a nostr event id.
func isEventID(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// NewRewardEvent builds an unsigned Result event announcing the winner.
// The caller signs it before publication.
func NewRewardEvent(root, winner string, tokens []commitment.Token, unlock string, createdAt nostr.Timestamp) (nostr.Event, error) {
	content, err := json.Marshal(RewardPayload{
		GameSequenceRoot:   root,
		WinnerPubkey:       winner,
		RewardTokens:       tokens,
		UnlockInstructions: unlock,
	})
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encode reward payload: %w", err)
	}
	return nostr.Event{
		Kind:      KindResult,
		CreatedAt: createdAt,
		Tags:      nostr.Tags{nostr.Tag{"e", root}},
		Content:   string(content),
	}, nil
}

// NewValidationFailureEvent builds an unsigned Result event recording why
// a sequence could not be rewarded.
func NewValidationFailureEvent(root, reason, failedEventID string, createdAt nostr.Timestamp) (nostr.Event, error) {
	content, err := json.Marshal(FailurePayload{
		GameSequenceRoot: root,
		FailureReason:    reason,
		FailedEventID:    failedEventID,
	})
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encode failure payload: %w", err)
	}
	return nostr.Event{
		Kind:      KindResult,
		CreatedAt: createdAt,
		Tags:      nostr.Tags{nostr.Tag{"e", root}},
		Content:   string(content),
	}, nil
}
