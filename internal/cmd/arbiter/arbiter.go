// Package arbiter parses arbiter command flags and starts the
// adjudication runtime: relay listener, orchestrator, mint client, and
// result publisher.
package arbiter

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	entrypoint "github.com/wagermint/arbiter/internal/platform/cmd"
	"github.com/wagermint/arbiter/internal/game"
	"github.com/wagermint/arbiter/internal/mint/httpmint"
	"github.com/wagermint/arbiter/internal/orchestrator"
	"github.com/wagermint/arbiter/internal/protocol"
	"github.com/wagermint/arbiter/internal/relay"
	boltstore "github.com/wagermint/arbiter/internal/storage/bbolt"
)

// Config holds arbiter command configuration.
type Config struct {
	RelayURLs              []string      `env:"ARBITER_RELAY_URLS" envSeparator:","`
	MintURL                string        `env:"ARBITER_MINT_URL"`
	SecretKey              string        `env:"ARBITER_SECRET_KEY"`
	StoragePath            string        `env:"ARBITER_STORAGE_PATH" envDefault:"arbiter.db"`
	MaxBatchSize           int           `env:"ARBITER_MAX_BATCH_SIZE" envDefault:"256"`
	MaxActivePerChallenger int           `env:"ARBITER_MAX_ACTIVE_PER_CHALLENGER" envDefault:"8"`
	CompletedRetention     time.Duration `env:"ARBITER_COMPLETED_RETENTION" envDefault:"24h"`
	SweepInterval          time.Duration `env:"ARBITER_SWEEP_INTERVAL" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.MintURL, "mint", cfg.MintURL, "The mint base URL")
	fs.StringVar(&cfg.StoragePath, "db", cfg.StoragePath, "The audit database path")
	fs.Func("relays", "Comma-separated relay URLs", func(v string) error {
		cfg.RelayURLs = strings.Split(v, ",")
		return nil
	})
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.RelayURLs) == 0 {
		return errors.New("at least one relay URL is required (ARBITER_RELAY_URLS)")
	}
	if c.MintURL == "" {
		return errors.New("mint URL is required (ARBITER_MINT_URL)")
	}
	if c.SecretKey == "" {
		return errors.New("adjudicator secret key is required (ARBITER_SECRET_KEY)")
	}
	return nil
}

// Run starts the arbiter daemon and blocks until the context is
// cancelled.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceArbiter, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	store, err := boltstore.Open(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer store.Close()

	senders, closeSenders, err := connectSenders(ctx, cfg.RelayURLs)
	if err != nil {
		return err
	}
	defer closeSenders()

	publisher, err := relay.NewPublisher(cfg.SecretKey, senders)
	if err != nil {
		return err
	}

	mintClient, err := httpmint.NewClient(cfg.MintURL, publisher, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		MaxBatchSize:           cfg.MaxBatchSize,
		MaxActivePerChallenger: cfg.MaxActivePerChallenger,
		CompletedRetention:     cfg.CompletedRetention,
	}, game.DefaultRegistry(), mintClient, publisher, store)
	if err != nil {
		return err
	}

	listener, err := relay.NewListener(cfg.RelayURLs, func(ctx context.Context, events []*protocol.Event) {
		for _, result := range orch.ProcessEvents(ctx, events) {
			if result.Err != nil {
				log.Printf("event %s: %s: %v", result.EventID, result.Status, result.Err)
			}
		}
	}, relay.WithBatchSize(cfg.MaxBatchSize))
	if err != nil {
		return err
	}

	go sweepLoop(ctx, orch, cfg.SweepInterval)

	log.Printf("adjudicating on %d relays, mint %s", len(cfg.RelayURLs), cfg.MintURL)
	return listener.Run(ctx)
}

// connectSenders opens publish connections to every relay. Startup
// succeeds when at least one relay is reachable.
func connectSenders(ctx context.Context, urls []string) ([]relay.Sender, func(), error) {
	var senders []relay.Sender
	var conns []*nostr.Relay
	for _, url := range urls {
		conn, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			log.Printf("connect %s: %v", url, err)
			continue
		}
		conns = append(conns, conn)
		senders = append(senders, conn)
	}
	if len(senders) == 0 {
		return nil, nil, fmt.Errorf("no relay reachable out of %d", len(urls))
	}
	closeAll := func() {
		for _, conn := range conns {
			conn.Close()
		}
	}
	return senders, closeAll, nil
}

// sweepLoop runs the timeout sweep and retention cleanup on a shared
// ticker.
func sweepLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, result := range orch.SweepTimeouts(ctx, now) {
				if result.Err != nil {
					log.Printf("sweep %s: %v", result.ChallengeID, result.Err)
				}
			}
			if err := orch.Cleanup(ctx, now); err != nil {
				log.Printf("cleanup: %v", err)
			}
		}
	}
}
