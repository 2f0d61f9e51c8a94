// Package orchestrator drives adjudication over the public event log.
//
// The orchestrator owns every active game sequence: it routes incoming
// protocol events to their sequence, screens moves for fraud, sweeps
// timeouts, and on termination dispatches the outcome (reward minting
// and result publication) before retiring the sequence to the audit
// store. All entry points are serialized; one orchestrator is the single
// writer for every challenge it tracks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wagermint/arbiter/internal/fraud"
	"github.com/wagermint/arbiter/internal/game"
	"github.com/wagermint/arbiter/internal/mint"
	"github.com/wagermint/arbiter/internal/protocol"
	"github.com/wagermint/arbiter/internal/sequence"
	"github.com/wagermint/arbiter/internal/storage"
)

const (
	defaultMaxBatchSize           = 256
	defaultMaxActivePerChallenger = 8
	defaultCompletedRetention     = 24 * time.Hour
)

// ErrTooManyActiveChallenges indicates a challenger exceeded their
// concurrent sequence allowance.
var ErrTooManyActiveChallenges = errors.New("challenger has too many active sequences")

// Status classifies how one event was handled.
type Status int

const (
	// StatusApplied means the event advanced its sequence.
	StatusApplied Status = iota
	// StatusAdjudicated means the event terminated its sequence and the
	// outcome was dispatched.
	StatusAdjudicated
	// StatusRejected means the event was invalid for its sequence and
	// was discarded without mutating state.
	StatusRejected
	// StatusDuplicate means the event was already part of a tracked or
	// retired sequence.
	StatusDuplicate
	// StatusIgnored means the event is outside the orchestrator's
	// remit, such as a Result event or batch overflow.
	StatusIgnored
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusAdjudicated:
		return "adjudicated"
	case StatusRejected:
		return "rejected"
	case StatusDuplicate:
		return "duplicate"
	case StatusIgnored:
		return "ignored"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ProcessingResult reports the outcome for one event in a batch.
type ProcessingResult struct {
	EventID     string
	ChallengeID string
	Status      Status
	// Detail explains rejections and ignores.
	Detail string
	// Err carries infrastructure failures (mint or relay unreachable);
	// the event itself may still have been applied.
	Err error
}

// ResultPublisher publishes adjudication failures to the public log.
// Reward publication goes through the mint capability instead, which
// attaches the winner-locked tokens.
type ResultPublisher interface {
	PublishValidationFailure(ctx context.Context, root, reason, failedEventID string) (string, error)
}

// RewardPolicy computes the reward amount for a terminated sequence.
type RewardPolicy func(seq *sequence.GameSequence) uint64

// StakeSumRewardPolicy rewards the sum of every token revealed in the
// sequence, by either player. It is the default policy.
func StakeSumRewardPolicy(seq *sequence.GameSequence) uint64 {
	var total uint64
	for _, player := range seq.Players() {
		if player == "" {
			continue
		}
		for _, token := range seq.RevealedTokensBy(player) {
			total += token.Amount
		}
	}
	return total
}

// Config bounds the orchestrator's working set.
type Config struct {
	// MaxBatchSize caps how many events one ProcessEvents call applies;
	// overflow is reported as ignored so the caller can redeliver.
	MaxBatchSize int
	// MaxActivePerChallenger caps concurrent open sequences per
	// challenger pubkey.
	MaxActivePerChallenger int
	// CompletedRetention is how long retired sequences stay indexed for
	// late-event deduplication.
	CompletedRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.MaxActivePerChallenger <= 0 {
		c.MaxActivePerChallenger = defaultMaxActivePerChallenger
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = defaultCompletedRetention
	}
	return c
}

// Option configures a new orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the orchestrator clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithRewardPolicy overrides the default stake-sum reward policy.
func WithRewardPolicy(policy RewardPolicy) Option {
	return func(o *Orchestrator) {
		if policy != nil {
			o.rewardPolicy = policy
		}
	}
}

type activeSequence struct {
	seq  *sequence.GameSequence
	game game.Game
}

type retiredSequence struct {
	retiredAt time.Time
	eventIDs  []string
}

// Orchestrator routes protocol events, detects termination, and
// dispatches outcomes.
type Orchestrator struct {
	mu sync.Mutex

	cfg          Config
	games        *game.Registry
	mint         mint.Mint
	publisher    ResultPublisher
	store        storage.SequenceStore
	detector     *fraud.Detector
	rewardPolicy RewardPolicy
	clock        func() time.Time

	active map[string]*activeSequence
	// retired keeps recently terminated challenges visible so late
	// events are classified as duplicates instead of unknown references.
	retired map[string]retiredSequence
	// eventIndex maps every tracked event id to its challenge id.
	eventIndex map[string]string
}

// New creates an orchestrator over the given capabilities. The store may
// be nil, in which case retired sequences are not persisted.
func New(cfg Config, games *game.Registry, m mint.Mint, publisher ResultPublisher, store storage.SequenceStore, opts ...Option) (*Orchestrator, error) {
	if games == nil {
		return nil, errors.New("game registry is required")
	}
	if m == nil {
		return nil, errors.New("mint capability is required")
	}
	if publisher == nil {
		return nil, errors.New("result publisher is required")
	}

	o := &Orchestrator{
		cfg:          cfg.withDefaults(),
		games:        games,
		mint:         m,
		publisher:    publisher,
		store:        store,
		detector:     fraud.NewDetector(m),
		rewardPolicy: StakeSumRewardPolicy,
		clock:        time.Now,
		active:       make(map[string]*activeSequence),
		retired:      make(map[string]retiredSequence),
		eventIndex:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ActiveCount returns how many sequences are currently tracked.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// ProcessEvents applies a batch of events in order. Each event is
// handled in isolation: a bad event is reported and skipped without
// affecting the rest of the batch.
func (o *Orchestrator) ProcessEvents(ctx context.Context, events []*protocol.Event) []ProcessingResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	results := make([]ProcessingResult, 0, len(events))
	for i, ev := range events {
		if ev == nil {
			continue
		}
		if i >= o.cfg.MaxBatchSize {
			results = append(results, ProcessingResult{
				EventID: ev.ID,
				Status:  StatusIgnored,
				Detail:  "batch limit reached; redeliver",
			})
			continue
		}
		results = append(results, o.processEvent(ctx, ev))
	}
	return results
}

func (o *Orchestrator) processEvent(ctx context.Context, ev *protocol.Event) ProcessingResult {
	if _, seen := o.eventIndex[ev.ID]; seen {
		return ProcessingResult{
			EventID:     ev.ID,
			ChallengeID: o.eventIndex[ev.ID],
			Status:      StatusDuplicate,
		}
	}

	switch ev.Kind {
	case protocol.KindChallenge:
		return o.openSequence(ev)
	case protocol.KindResult:
		// Result events are the adjudicator's own output.
		return ProcessingResult{EventID: ev.ID, Status: StatusIgnored, Detail: "result events are not adjudicated"}
	}

	challengeID, ok := o.eventIndex[ev.Reference()]
	if !ok {
		return ProcessingResult{
			EventID: ev.ID,
			Status:  StatusRejected,
			Detail:  fmt.Sprintf("reference %s is not tracked", ev.Reference()),
		}
	}
	entry, live := o.active[challengeID]
	if !live {
		// The sequence already terminated; a late event is harmless.
		return ProcessingResult{EventID: ev.ID, ChallengeID: challengeID, Status: StatusDuplicate, Detail: "sequence already retired"}
	}

	if err := entry.seq.AddEvent(ev); err != nil {
		status := StatusRejected
		if errors.Is(err, sequence.ErrDuplicateEvent) {
			status = StatusDuplicate
		}
		return ProcessingResult{EventID: ev.ID, ChallengeID: challengeID, Status: status, Detail: err.Error()}
	}
	o.eventIndex[ev.ID] = challengeID

	if report, err := o.detector.ScreenMove(ctx, entry.seq, ev); err != nil {
		// Infrastructure failure, not fraud. The event stands; the
		// reveal is re-screened when the sequence terminates.
		log.Printf("screen move %s: %v", ev.ID, err)
		return ProcessingResult{EventID: ev.ID, ChallengeID: challengeID, Status: StatusApplied, Err: err}
	} else if report != nil {
		return o.forfeit(ctx, entry, ev.ID, report.Offender, report.Reason)
	}

	if entry.seq.State() == sequence.StateComplete {
		return o.adjudicateComplete(ctx, entry, ev.ID)
	}
	return ProcessingResult{EventID: ev.ID, ChallengeID: challengeID, Status: StatusApplied}
}

func (o *Orchestrator) openSequence(ev *protocol.Event) ProcessingResult {
	strategy, err := o.games.Lookup(ev.Challenge.GameType)
	if err != nil {
		return ProcessingResult{EventID: ev.ID, Status: StatusRejected, Detail: err.Error()}
	}

	open := 0
	for _, entry := range o.active {
		if entry.seq.Players()[0] == ev.Author {
			open++
		}
	}
	if open >= o.cfg.MaxActivePerChallenger {
		return ProcessingResult{
			EventID: ev.ID,
			Status:  StatusRejected,
			Detail:  ErrTooManyActiveChallenges.Error(),
		}
	}

	seq, err := sequence.New(ev,
		sequence.WithClock(o.clock),
		sequence.WithRequiredFinalEvents(strategy.RequiredFinalEvents()),
	)
	if err != nil {
		return ProcessingResult{EventID: ev.ID, Status: StatusRejected, Detail: err.Error()}
	}

	o.active[ev.ID] = &activeSequence{seq: seq, game: strategy}
	o.eventIndex[ev.ID] = ev.ID
	return ProcessingResult{EventID: ev.ID, ChallengeID: ev.ID, Status: StatusApplied}
}

// adjudicateComplete validates a naturally completed sequence and
// dispatches its outcome.
func (o *Orchestrator) adjudicateComplete(ctx context.Context, entry *activeSequence, eventID string) ProcessingResult {
	seq := entry.seq
	result := ProcessingResult{EventID: eventID, ChallengeID: seq.ChallengeID(), Status: StatusAdjudicated}

	if audit := entry.game.ValidateSequence(seq); !audit.Valid {
		reason := "sequence failed validation"
		if len(audit.Problems) > 0 {
			reason = audit.Problems[0]
		}
		result.Err = o.retireWithFailure(ctx, entry, reason, eventID)
		return result
	}
	if !entry.game.IsSequenceComplete(seq) {
		result.Err = o.retireWithFailure(ctx, entry, "sequence lacks the material to determine a winner", eventID)
		return result
	}

	winner, decided := entry.game.DetermineWinner(seq)
	if !decided {
		// A draw: publish the result record with no winner and no
		// reward so both players can reclaim their stakes.
		resultID, err := o.mint.PublishGameResult(ctx, seq.ChallengeID(), "", nil)
		if err != nil {
			log.Printf("publish draw result for %s: %v", seq.ChallengeID(), err)
			result.Err = err
		}
		o.retire(ctx, entry, storage.SequenceRecord{ResultEventID: resultID})
		return result
	}

	result.Err = o.dispatchReward(ctx, entry, winner)
	return result
}

// forfeit terminates the sequence against the offender and rewards the
// counterpart.
func (o *Orchestrator) forfeit(ctx context.Context, entry *activeSequence, eventID, offender, reason string) ProcessingResult {
	seq := entry.seq
	result := ProcessingResult{EventID: eventID, ChallengeID: seq.ChallengeID(), Status: StatusAdjudicated, Detail: reason}

	if err := seq.ForfeitPlayer(offender); err != nil {
		if errors.Is(err, sequence.ErrNoCounterpart) {
			// Nobody to award; record the failure and retire.
			result.Err = o.retireWithFailure(ctx, entry, reason, eventID)
			return result
		}
		result.Status = StatusRejected
		result.Err = fmt.Errorf("forfeit %s: %w", offender, err)
		return result
	}

	log.Printf("forfeited %s in sequence %s: %s", offender, seq.ChallengeID(), reason)
	err := o.dispatchReward(ctx, entry, seq.Winner())
	if err == nil {
		return result
	}
	result.Err = err
	return result
}

// dispatchReward mints winner-locked tokens, publishes the reward record,
// and retires the sequence.
func (o *Orchestrator) dispatchReward(ctx context.Context, entry *activeSequence, winner string) error {
	seq := entry.seq
	amount := o.rewardPolicy(seq)

	rewardTokens, err := o.mint.MintRewardTokens(ctx, amount, winner)
	if err != nil {
		// A reward that cannot be minted still produces a published
		// outcome: the failure record.
		log.Printf("mint reward for %s: %v", seq.ChallengeID(), err)
		if pubErr := o.retireWithFailure(ctx, entry, fmt.Sprintf("reward minting failed: %v", err), ""); pubErr != nil {
			log.Printf("retire %s: %v", seq.ChallengeID(), pubErr)
		}
		return fmt.Errorf("mint reward tokens: %w", err)
	}

	resultID, err := o.mint.PublishGameResult(ctx, seq.ChallengeID(), winner, rewardTokens)
	if err != nil {
		log.Printf("publish reward for %s: %v", seq.ChallengeID(), err)
		if pubErr := o.retireWithFailure(ctx, entry, fmt.Sprintf("result publication failed: %v", err), ""); pubErr != nil {
			log.Printf("retire %s: %v", seq.ChallengeID(), pubErr)
		}
		return fmt.Errorf("publish game result: %w", err)
	}

	o.retire(ctx, entry, storage.SequenceRecord{ResultEventID: resultID})
	return nil
}

// retireWithFailure publishes a validation failure and retires the
// sequence without a reward.
func (o *Orchestrator) retireWithFailure(ctx context.Context, entry *activeSequence, reason, failedEventID string) error {
	seq := entry.seq
	resultID, err := o.publisher.PublishValidationFailure(ctx, seq.ChallengeID(), reason, failedEventID)
	if err != nil {
		log.Printf("publish validation failure for %s: %v", seq.ChallengeID(), err)
	}
	o.retire(ctx, entry, storage.SequenceRecord{ResultEventID: resultID, FailureReason: reason})
	if err != nil {
		return fmt.Errorf("publish validation failure: %w", err)
	}
	return nil
}

// retire moves a sequence out of the active set and persists its audit
// record. The overlay carries outcome fields the sequence itself does not
// know.
func (o *Orchestrator) retire(ctx context.Context, entry *activeSequence, overlay storage.SequenceRecord) {
	seq := entry.seq
	now := o.clock()

	delete(o.active, seq.ChallengeID())
	o.retired[seq.ChallengeID()] = retiredSequence{retiredAt: now, eventIDs: seq.EventIDs()}

	if o.store == nil {
		return
	}

	record := storage.SequenceRecord{
		ChallengeID:   seq.ChallengeID(),
		GameType:      seq.GameType(),
		Players:       seq.Players(),
		State:         seq.State().String(),
		Winner:        seq.Winner(),
		EventIDs:      seq.EventIDs(),
		CreatedAt:     seq.CreatedAt(),
		CompletedAt:   now,
		ResultEventID: overlay.ResultEventID,
		FailureReason: overlay.FailureReason,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		record.TraceID = sc.TraceID().String()
		record.SpanID = sc.SpanID().String()
	}
	if err := o.store.Put(ctx, record); err != nil {
		log.Printf("persist sequence %s: %v", seq.ChallengeID(), err)
	}
}

// SweepTimeouts checks every active sequence against its phase deadlines
// at the given time and acts on violations: unanswered challenges expire
// silently, stalled games forfeit the stalled player.
func (o *Orchestrator) SweepTimeouts(ctx context.Context, now time.Time) []ProcessingResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	var results []ProcessingResult
	for challengeID, entry := range o.active {
		sweep := o.detector.SweepSequence(entry.seq, now, entry.game)
		switch sweep.Action {
		case fraud.ActionExpire:
			delete(o.active, challengeID)
			for _, id := range entry.seq.EventIDs() {
				delete(o.eventIndex, id)
			}
			log.Printf("expired unanswered challenge %s", challengeID)
			results = append(results, ProcessingResult{
				ChallengeID: challengeID,
				Status:      StatusIgnored,
				Detail:      "challenge expired without acceptance",
			})
		case fraud.ActionForfeit:
			reason := fmt.Sprintf("timeout in phase %s", sweep.Violation.Phase)
			results = append(results, o.forfeit(ctx, entry, "", sweep.Player, reason))
		}
	}
	return results
}

// Cleanup evicts retired sequences past the retention window, both from
// the in-memory index and from the audit store.
func (o *Orchestrator) Cleanup(ctx context.Context, now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := now.Add(-o.cfg.CompletedRetention)
	for challengeID, entry := range o.retired {
		if entry.retiredAt.Before(cutoff) {
			for _, id := range entry.eventIDs {
				delete(o.eventIndex, id)
			}
			delete(o.retired, challengeID)
		}
	}

	if o.store == nil {
		return nil
	}
	pruned, err := o.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune audit store: %w", err)
	}
	if pruned > 0 {
		log.Printf("pruned %d retired sequences", pruned)
	}
	return nil
}
