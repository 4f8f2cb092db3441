// Package hash computes content digests used as verdict cache keys.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names a digest function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
	// BLAKE2B is BLAKE2b-256.
	BLAKE2B Algorithm = "blake2b"
)

// ParseAlgorithm accepts an algorithm name case-insensitively. Empty means SHA-256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case SHA256, BLAKE3, BLAKE2B:
		return a, nil
	case "":
		return SHA256, nil
	}
	return "", fmt.Errorf("unknown hash algorithm %q", s)
}

// Hasher produces hex digests tagged with their algorithm, so keys from
// different algorithms never collide.
type Hasher struct {
	algorithm Algorithm
}

// New creates a hasher. Unknown algorithms fall back to SHA-256.
func New(algorithm Algorithm) *Hasher {
	if algorithm != BLAKE3 && algorithm != BLAKE2B {
		algorithm = SHA256
	}
	return &Hasher{algorithm: algorithm}
}

// Default returns a SHA-256 hasher.
func Default() *Hasher {
	return New(SHA256)
}

// Algorithm returns the digest in use.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Sum returns the raw hex digest of data.
func (h *Hasher) Sum(data []byte) string {
	switch h.algorithm {
	case BLAKE3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	case BLAKE2B:
		sum := blake2b.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// Key returns "algorithm:hexdigest" for data.
func (h *Hasher) Key(data []byte) string {
	return string(h.algorithm) + ":" + h.Sum(data)
}

// Short truncates a digest or key to 12 characters of hex for log lines.
func Short(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		key = key[i+1:]
	}
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
