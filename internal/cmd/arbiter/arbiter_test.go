package arbiter

import (
	"context"
	"flag"
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("arbiter", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.StoragePath != "arbiter.db" {
		t.Fatalf("expected default storage path, got %q", cfg.StoragePath)
	}
	if cfg.MaxBatchSize != 256 {
		t.Fatalf("expected default batch size 256, got %d", cfg.MaxBatchSize)
	}
	if cfg.MaxActivePerChallenger != 8 {
		t.Fatalf("expected default challenger cap 8, got %d", cfg.MaxActivePerChallenger)
	}
	if cfg.CompletedRetention != 24*time.Hour {
		t.Fatalf("expected default retention 24h, got %v", cfg.CompletedRetention)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("expected default sweep interval 30s, got %v", cfg.SweepInterval)
	}
}

func TestParseConfigEnv(t *testing.T) {
	t.Setenv("ARBITER_RELAY_URLS", "wss://a.example,wss://b.example")
	t.Setenv("ARBITER_MINT_URL", "https://mint.example")

	fs := flag.NewFlagSet("arbiter", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if len(cfg.RelayURLs) != 2 || cfg.RelayURLs[1] != "wss://b.example" {
		t.Fatalf("expected relay URLs from env, got %v", cfg.RelayURLs)
	}
	if cfg.MintURL != "https://mint.example" {
		t.Fatalf("expected mint URL from env, got %q", cfg.MintURL)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	fs := flag.NewFlagSet("arbiter", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-mint", "https://other.example",
		"-db", "/tmp/audit.db",
		"-relays", "wss://c.example,wss://d.example",
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.MintURL != "https://other.example" {
		t.Fatalf("expected mint override, got %q", cfg.MintURL)
	}
	if cfg.StoragePath != "/tmp/audit.db" {
		t.Fatalf("expected storage override, got %q", cfg.StoragePath)
	}
	if len(cfg.RelayURLs) != 2 || cfg.RelayURLs[0] != "wss://c.example" {
		t.Fatalf("expected relay override, got %v", cfg.RelayURLs)
	}
}

func TestRunRejectsIncompleteConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no relays", Config{MintURL: "https://m", SecretKey: "sk"}, "relay URL"},
		{"no mint", Config{RelayURLs: []string{"wss://r"}, SecretKey: "sk"}, "mint URL"},
		{"no key", Config{RelayURLs: []string{"wss://r"}, MintURL: "https://m"}, "secret key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Run(context.Background(), tc.cfg)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
