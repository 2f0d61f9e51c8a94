package game

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/wagermint/arbiter/internal/commitment"
	"github.com/wagermint/arbiter/internal/sequence"
)

// timeoutGrace absorbs clock skew between relays and adjudicators before
// a timeout turns into a forfeiture.
const timeoutGrace = 30 * time.Second

// ErrInvalidOpening indicates commitment-opening bytes that do not split
// into whole 32-byte pieces.
var ErrInvalidOpening = errors.New("commitment opening is not a sequence of 32-byte pieces")

// strategy carries the behavior shared by every shipped game: opening
// decoding, aggregate commitment verification, final-event policy, and
// timeout policy. Concrete games embed it and supply winner derivation.
type strategy struct{}

// DecodeCommitmentOpening splits the opening into 32-byte digests.
func (strategy) DecodeCommitmentOpening(data []byte) ([][]byte, error) {
	if len(data) == 0 || len(data)%sha256.Size != 0 {
		return nil, ErrInvalidOpening
	}
	pieces := make([][]byte, 0, len(data)/sha256.Size)
	for i := 0; i < len(data); i += sha256.Size {
		piece := make([]byte, sha256.Size)
		copy(piece, data[i:i+sha256.Size])
		pieces = append(pieces, piece)
	}
	return pieces, nil
}

// ValidateSequence runs the structural audit plus the aggregate
// commitment check: when a Final event declares an aggregation method and
// a player has revealed their full token set, the revealed set must
// reproduce the aggregate of that player's published per-token hashes.
func (strategy) ValidateSequence(seq *sequence.GameSequence) sequence.ValidationResult {
	result := seq.ValidateIntegrity()

	method := seq.DeclaredCommitmentMethod()
	if method == "" {
		return result
	}

	for _, player := range seq.Players() {
		if player == "" {
			continue
		}
		published := seq.CommitmentHashesFor(player)
		revealed := seq.RevealedTokensBy(player)
		if len(published) == 0 || len(revealed) != len(published) {
			continue
		}

		expected, err := commitment.AggregateDigests(published, method)
		if err != nil {
			result.Valid = false
			result.Problems = append(result.Problems, fmt.Sprintf("player %s published undecodable commitment hashes: %v", player, err))
			continue
		}
		actual, err := commitment.Multiple(revealed, method)
		if err != nil {
			result.Valid = false
			result.Problems = append(result.Problems, fmt.Sprintf("player %s revealed tokens that cannot be committed: %v", player, err))
			continue
		}
		if actual.Hash != expected {
			result.Valid = false
			result.Problems = append(result.Problems, fmt.Sprintf("player %s revealed tokens do not reproduce their aggregate commitment", player))
		}
	}

	return result
}

// RequiredFinalEvents defaults to both players confirming.
func (strategy) RequiredFinalEvents() int { return 2 }

// ShouldTimeoutForfeit forfeits any phase overdue beyond the grace
// period.
func (strategy) ShouldTimeoutForfeit(_ sequence.State, overdue time.Duration) bool {
	return overdue > timeoutGrace
}

// bothPlayersRevealed reports whether each bound player revealed at least
// one token.
func bothPlayersRevealed(seq *sequence.GameSequence) bool {
	players := seq.Players()
	if players[1] == "" {
		return false
	}
	return len(seq.RevealedTokensBy(players[0])) > 0 && len(seq.RevealedTokensBy(players[1])) > 0
}

// revealDigest folds a player's revealed tokens into one digest. Token
// digests are aggregated in canonical sorted order, so reveal order does
// not change the outcome.
func revealDigest(seq *sequence.GameSequence, player string) ([32]byte, error) {
	tokens := seq.RevealedTokensBy(player)
	if len(tokens) == 0 {
		return [32]byte{}, fmt.Errorf("player %s revealed no tokens", player)
	}
	digests := make([]string, 0, len(tokens))
	for _, token := range tokens {
		digest, err := commitment.TokenDigest(token)
		if err != nil {
			return [32]byte{}, err
		}
		digests = append(digests, fmt.Sprintf("%x", digest))
	}
	aggregate, err := commitment.AggregateDigests(digests, commitment.MethodConcatenation)
	if err != nil {
		return [32]byte{}, err
	}
	raw, err := hex.DecodeString(aggregate)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}
