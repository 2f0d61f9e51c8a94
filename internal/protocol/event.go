// Package protocol defines the typed wire events of the game protocol.
//
// Events travel as signed nostr events; this package validates their
// structure and decodes the kind-specific JSON content into immutable
// payloads. Signature verification happens at the relay edge, before
// events reach the engine.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Protocol event kinds.
const (
	// KindChallenge opens a game and publishes the challenger's
	// commitments.
	KindChallenge = 9259
	// KindAccept accepts a challenge and publishes the accepter's
	// commitments.
	KindAccept = 9260
	// KindMove advances the game, optionally revealing tokens.
	KindMove = 9261
	// KindFinal declares a player's view of the finished game.
	KindFinal = 9262
	// KindResult is published by the adjudicator: a reward or a
	// validation failure.
	KindResult = 9263
)

// maxContentSize bounds event content accepted by the engine.
const maxContentSize = 64 * 1024

var (
	// ErrUnknownKind indicates an event kind outside the protocol range.
	ErrUnknownKind = errors.New("event kind is not a protocol kind")
	// ErrInvalidEventID indicates the event id does not match the
	// event's serialized form.
	ErrInvalidEventID = errors.New("event id does not match its content")
	// ErrInvalidAuthor indicates a malformed author pubkey.
	ErrInvalidAuthor = errors.New("author pubkey is not a 32-byte hex key")
	// ErrContentTooLarge indicates event content above the size policy.
	ErrContentTooLarge = errors.New("event content exceeds size limit")
	// ErrMissingTimestamp indicates an event without a creation time.
	ErrMissingTimestamp = errors.New("event creation time is required")
)

// Event is a validated, immutable protocol event. Exactly one payload
// pointer is non-nil, matching Kind.
type Event struct {
	// ID is the nostr event id (hex SHA-256 of the serialized event).
	ID string
	// Author is the signing pubkey.
	Author string
	// CreatedAt is the event's declared creation time.
	CreatedAt time.Time
	// Kind is one of the protocol kinds.
	Kind int

	Challenge *ChallengePayload
	Accept    *AcceptPayload
	Move      *MovePayload
	Final     *FinalPayload
	Result    *ResultPayload
}

// Parse validates a nostr event and decodes it into a protocol event.
func Parse(ev nostr.Event) (*Event, error) {
	switch ev.Kind {
	case KindChallenge, KindAccept, KindMove, KindFinal, KindResult:
	default:
		return nil, fmt.Errorf("kind %d: %w", ev.Kind, ErrUnknownKind)
	}
	if !isEventID(ev.PubKey) {
		return nil, ErrInvalidAuthor
	}
	if ev.CreatedAt == 0 {
		return nil, ErrMissingTimestamp
	}
	if len(ev.Content) > maxContentSize {
		return nil, ErrContentTooLarge
	}
	if ev.GetID() != ev.ID {
		return nil, ErrInvalidEventID
	}

	event := &Event{
		ID:        ev.ID,
		Author:    ev.PubKey,
		CreatedAt: ev.CreatedAt.Time(),
		Kind:      ev.Kind,
	}

	switch ev.Kind {
	case KindChallenge:
		payload := &ChallengePayload{}
		if err := decodePayload(ev.Content, payload); err != nil {
			return nil, err
		}
		event.Challenge = payload
	case KindAccept:
		payload := &AcceptPayload{}
		if err := decodePayload(ev.Content, payload); err != nil {
			return nil, err
		}
		event.Accept = payload
	case KindMove:
		payload := &MovePayload{}
		if err := decodePayload(ev.Content, payload); err != nil {
			return nil, err
		}
		event.Move = payload
	case KindFinal:
		payload := &FinalPayload{}
		if err := decodePayload(ev.Content, payload); err != nil {
			return nil, err
		}
		event.Final = payload
	case KindResult:
		result, err := decodeResult(ev.Content)
		if err != nil {
			return nil, err
		}
		event.Result = result
	}

	return event, nil
}

// Reference returns the event id this event declares as its predecessor:
// the challenge id for an Accept, the previous event id for a Move, the
// sequence root for a Final. Challenge and Result events reference
// nothing and return "".
func (e *Event) Reference() string {
	switch {
	case e.Accept != nil:
		return e.Accept.ChallengeID
	case e.Move != nil:
		return e.Move.PreviousEventID
	case e.Final != nil:
		return e.Final.GameSequenceRoot
	}
	return ""
}

type validator interface {
	validate() error
}

func decodePayload(content string, payload validator) error {
	if err := json.Unmarshal([]byte(content), payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := payload.validate(); err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	return nil
}

func decodeResult(content string) (*ResultPayload, error) {
	probe := struct {
		WinnerPubkey  *string `json:"winner_pubkey"`
		FailureReason *string `json:"failure_reason"`
	}{}
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return nil, fmt.Errorf("decode result payload: %w", err)
	}

	switch {
	case probe.FailureReason != nil:
		payload := &FailurePayload{}
		if err := json.Unmarshal([]byte(content), payload); err != nil {
			return nil, fmt.Errorf("decode failure payload: %w", err)
		}
		if !isEventID(payload.GameSequenceRoot) {
			return nil, ErrMissingReference
		}
		return &ResultPayload{Failure: payload}, nil
	case probe.WinnerPubkey != nil:
		payload := &RewardPayload{}
		if err := json.Unmarshal([]byte(content), payload); err != nil {
			return nil, fmt.Errorf("decode reward payload: %w", err)
		}
		if !isEventID(payload.GameSequenceRoot) {
			return nil, ErrMissingReference
		}
		return &ResultPayload{Reward: payload}, nil
	default:
		return nil, errors.New("result payload is neither a reward nor a failure")
	}
}
