// Package storage declares the durable audit-trail interfaces of the
// adjudicator. The live engine keeps sequences in memory; completed
// sequences are additionally written here so adjudication outcomes
// survive restarts and remain auditable after retention eviction.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SequenceRecord is the audit snapshot of a retired game sequence.
type SequenceRecord struct {
	ChallengeID string    `json:"challenge_id"`
	GameType    string    `json:"game_type"`
	Players     [2]string `json:"players"`
	State       string    `json:"state"`
	Winner      string    `json:"winner,omitempty"`
	EventIDs    []string  `json:"event_ids"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
	// ResultEventID is the published Reward or ValidationFailure event.
	ResultEventID string `json:"result_event_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	// TraceID and SpanID link the record to the trace that retired it.
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// SequenceStore persists retired sequence records.
type SequenceStore interface {
	Put(ctx context.Context, record SequenceRecord) error
	Get(ctx context.Context, challengeID string) (SequenceRecord, error)
	// PruneBefore removes records completed before the cutoff and
	// returns how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
