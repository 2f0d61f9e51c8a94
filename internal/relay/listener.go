package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wagermint/arbiter/internal/protocol"
)

const (
	defaultBatchSize  = 64
	defaultFlushEvery = 2 * time.Second
	reconnectBackoff  = 5 * time.Second
)

// ErrBadSignature indicates an event whose signature does not verify.
var ErrBadSignature = errors.New("event signature does not verify")

// Handler consumes one batch of verified protocol events, in arrival
// order.
type Handler func(ctx context.Context, events []*protocol.Event)

// Listener subscribes to the protocol kinds on a set of relays, verifies
// signatures at the edge, and hands decoded events to the handler in
// batches.
type Listener struct {
	urls       []string
	handler    Handler
	batchSize  int
	flushEvery time.Duration
}

// ListenerOption configures a listener.
type ListenerOption func(*Listener)

// WithBatchSize overrides how many events one handler call may carry.
func WithBatchSize(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithFlushInterval overrides how long a partial batch may wait.
func WithFlushInterval(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.flushEvery = d
		}
	}
}

// NewListener creates a listener over the given relay URLs.
func NewListener(urls []string, handler Handler, opts ...ListenerOption) (*Listener, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one relay URL is required")
	}
	if handler == nil {
		return nil, errors.New("event handler is required")
	}
	l := &Listener{
		urls:       urls,
		handler:    handler,
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// subscriptionFilters matches every protocol kind the engine adjudicates.
// Result events are the engine's own output and are not subscribed.
func subscriptionFilters() nostr.Filters {
	return nostr.Filters{{
		Kinds: []int{
			protocol.KindChallenge,
			protocol.KindAccept,
			protocol.KindMove,
			protocol.KindFinal,
		},
	}}
}

// Run subscribes to every relay and pumps batches into the handler until
// the context is cancelled. Relay failures reconnect with backoff; Run
// only returns on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	incoming := make(chan *protocol.Event, l.batchSize)

	for _, url := range l.urls {
		go l.pump(ctx, url, incoming)
	}

	l.collect(ctx, incoming)
	return ctx.Err()
}

// pump maintains one relay subscription, reconnecting on failure.
func (l *Listener) pump(ctx context.Context, url string, incoming chan<- *protocol.Event) {
	for {
		if err := l.subscribe(ctx, url, incoming); err != nil && ctx.Err() == nil {
			log.Printf("relay %s: %v; reconnecting", url, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (l *Listener) subscribe(ctx context.Context, url string, incoming chan<- *protocol.Event) error {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer relay.Close()

	sub, err := relay.Subscribe(ctx, subscriptionFilters())
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				return errors.New("subscription closed")
			}
			if ev == nil {
				continue
			}
			event, err := Ingest(*ev)
			if err != nil {
				log.Printf("relay %s: drop event %s: %v", url, ev.ID, err)
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case incoming <- event:
			}
		}
	}
}

// Ingest verifies and decodes one wire event. Signature verification
// happens here, at the edge, so everything past the listener can trust
// event authorship.
func Ingest(ev nostr.Event) (*protocol.Event, error) {
	ok, err := ev.CheckSignature()
	if err != nil {
		return nil, fmt.Errorf("check signature: %w", err)
	}
	if !ok {
		return nil, ErrBadSignature
	}
	return protocol.Parse(ev)
}

// collect batches incoming events by size and flush interval.
func (l *Listener) collect(ctx context.Context, incoming <-chan *protocol.Event) {
	ticker := time.NewTicker(l.flushEvery)
	defer ticker.Stop()

	batch := make([]*protocol.Event, 0, l.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.handler(ctx, batch)
		batch = make([]*protocol.Event, 0, l.batchSize)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-incoming:
			batch = append(batch, ev)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
