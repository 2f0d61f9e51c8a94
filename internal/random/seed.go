// Package random provides seed derivation helpers.
//
// Game strategies derive pseudo-random rolls from revealed commitment
// digests, never from local entropy: every adjudicator watching the same
// event log must land on the same outcome.
package random

import (
	"encoding/binary"
)

// SeedFromDigest derives a deterministic seed from a 32-byte digest.
func SeedFromDigest(digest [32]byte) int64 {
	return int64(binary.BigEndian.Uint64(digest[:8]))
}
