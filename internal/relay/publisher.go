// Package relay connects the engine to the public event log: a listener
// that ingests signed protocol events from nostr relays, and a publisher
// that signs and broadcasts the adjudicator's result events.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wagermint/arbiter/internal/commitment"
	"github.com/wagermint/arbiter/internal/protocol"
)

// Sender delivers a signed event to one relay. *nostr.Relay satisfies it.
type Sender interface {
	Publish(ctx context.Context, ev nostr.Event) error
}

// Publisher signs result events with the adjudicator key and broadcasts
// them to every configured relay.
type Publisher struct {
	secretKey string
	senders   []Sender
	clock     func() time.Time
}

// PublisherOption configures a publisher.
type PublisherOption func(*Publisher)

// WithPublisherClock overrides the event timestamp clock, for tests.
func WithPublisherClock(clock func() time.Time) PublisherOption {
	return func(p *Publisher) { p.clock = clock }
}

// NewPublisher creates a publisher over the given senders.
func NewPublisher(secretKey string, senders []Sender, opts ...PublisherOption) (*Publisher, error) {
	if secretKey == "" {
		return nil, errors.New("adjudicator secret key is required")
	}
	if len(senders) == 0 {
		return nil, errors.New("at least one relay sender is required")
	}
	p := &Publisher{secretKey: secretKey, senders: senders, clock: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PublishReward signs and broadcasts a reward result for the sequence.
func (p *Publisher) PublishReward(ctx context.Context, root, winner string, tokens []commitment.Token) (string, error) {
	ev, err := protocol.NewRewardEvent(root, winner, tokens, "", nostr.Timestamp(p.clock().Unix()))
	if err != nil {
		return "", err
	}
	return p.broadcast(ctx, ev)
}

// PublishValidationFailure signs and broadcasts a failure result for the
// sequence.
func (p *Publisher) PublishValidationFailure(ctx context.Context, root, reason, failedEventID string) (string, error) {
	ev, err := protocol.NewValidationFailureEvent(root, reason, failedEventID, nostr.Timestamp(p.clock().Unix()))
	if err != nil {
		return "", err
	}
	return p.broadcast(ctx, ev)
}

// broadcast signs the event and sends it to every relay. It succeeds when
// at least one relay accepted the event.
func (p *Publisher) broadcast(ctx context.Context, ev nostr.Event) (string, error) {
	if err := ev.Sign(p.secretKey); err != nil {
		return "", fmt.Errorf("sign result event: %w", err)
	}

	var errs []error
	accepted := 0
	for _, sender := range p.senders {
		if err := sender.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return "", fmt.Errorf("no relay accepted event %s: %w", ev.ID, errors.Join(errs...))
	}
	return ev.ID, nil
}
