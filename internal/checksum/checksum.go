// Package checksum hashes library bodies and derives storage scope ids.
package checksum

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Sum returns the hex-encoded BLAKE3 digest of data.
func Sum(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ScopeID derives a stable identifier for a library source URL. The result is
// 32 lowercase hex characters and is safe to embed in SQL identifiers.
func ScopeID(url string) string {
	return Sum([]byte(url))[:32]
}
