// Package checksum hashes migration scripts for drift detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the lowercase hex SHA-256 digest of b.
func SHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// String hashes the exact bytes of s. No newline or encoding normalization
// is applied, so the same script hashes identically on every platform.
func String(s string) string {
	return SHA256([]byte(s))
}
