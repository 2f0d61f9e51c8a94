// Package httpmint implements the mint capability against a remote ecash
// mint's HTTP API.
package httpmint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wagermint/arbiter/internal/commitment"
	"github.com/wagermint/arbiter/internal/mint"
)

// RewardPublisher publishes the signed reward record to the public log.
// The relay publisher implements it; the mint client delegates result
// publication so reward tokens and their announcement stay coupled.
type RewardPublisher interface {
	PublishReward(ctx context.Context, root, winner string, tokens []commitment.Token) (string, error)
}

// Client calls a remote mint over HTTP.
type Client struct {
	baseURL   string
	client    *http.Client
	publisher RewardPublisher
}

// NewClient creates a mint client for the given base URL. A nil http
// client falls back to http.DefaultClient.
func NewClient(baseURL string, publisher RewardPublisher, client *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("mint base URL is required")
	}
	if publisher == nil {
		return nil, errors.New("reward publisher is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		publisher: publisher,
	}, nil
}

type validateRequest struct {
	Tokens []commitment.Token `json:"tokens"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ValidateTokens asks the mint whether every token is spendable.
func (c *Client) ValidateTokens(ctx context.Context, tokens []commitment.Token) (bool, error) {
	var result validateResponse
	if err := c.post(ctx, "/v1/tokens/validate", validateRequest{Tokens: tokens}, &result); err != nil {
		return false, err
	}
	return result.Valid, nil
}

type mintRequest struct {
	Amount     uint64 `json:"amount"`
	LockPubkey string `json:"lock_pubkey"`
}

type mintResponse struct {
	Tokens []commitment.Token `json:"tokens"`
}

// MintRewardTokens asks the mint to issue reward tokens locked to the
// winner's pubkey.
func (c *Client) MintRewardTokens(ctx context.Context, amount uint64, winnerPubkey string) ([]commitment.Token, error) {
	if amount == 0 {
		return nil, nil
	}
	var result mintResponse
	if err := c.post(ctx, "/v1/tokens/mint", mintRequest{Amount: amount, LockPubkey: winnerPubkey}, &result); err != nil {
		return nil, err
	}
	return result.Tokens, nil
}

// PublishGameResult publishes the reward record for the sequence.
func (c *Client) PublishGameResult(ctx context.Context, root, winnerPubkey string, tokens []commitment.Token) (string, error) {
	return c.publisher.PublishReward(ctx, root, winnerPubkey, tokens)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", mint.ErrMintUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mint returned %s for %s", resp.Status, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode mint response: %w", err)
	}
	return nil
}

var _ mint.Mint = (*Client)(nil)
