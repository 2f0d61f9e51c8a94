// Package mint declares the ecash mint capability consumed by the
// adjudication engine. The engine never interprets token cryptography;
// it asks the mint to validate revealed tokens and to issue winner-locked
// reward tokens.
package mint

import (
	"context"
	"errors"

	"github.com/wagermint/arbiter/internal/commitment"
)

// ErrMintUnavailable indicates the mint could not be reached.
var ErrMintUnavailable = errors.New("mint is unavailable")

// Mint validates tokens and issues rewards.
type Mint interface {
	// ValidateTokens reports whether every token is accepted by the
	// mint. A false return means at least one token is not spendable.
	ValidateTokens(ctx context.Context, tokens []commitment.Token) (bool, error)

	// MintRewardTokens issues reward tokens for the given amount,
	// locked to the winner's pubkey (P2PK).
	MintRewardTokens(ctx context.Context, amount uint64, winnerPubkey string) ([]commitment.Token, error)

	// PublishGameResult publishes the signed reward record for the
	// sequence and returns the published event id.
	PublishGameResult(ctx context.Context, root, winnerPubkey string, tokens []commitment.Token) (string, error)
}
