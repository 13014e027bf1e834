package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SchemeMarker is the fixed leading marker of every issued secret.
	// It identifies the token type cheaply without revealing anything.
	SchemeMarker = "kg_live_"

	// secretEntropyBytes is the random material behind each secret:
	// 32 bytes = 256 bits, rendered as 64 hex characters.
	secretEntropyBytes = 32

	// prefixHexLen is how many leading hex characters of the random
	// material go into the indexable prefix. 8 hex chars = 32 bits, long
	// enough to make prefix collisions rare but far too short to recover
	// any usable part of the secret.
	prefixHexLen = 8
)

// PrefixLen is the total length of a credential prefix: scheme marker
// plus the leading slice of the random material.
const PrefixLen = len(SchemeMarker) + prefixHexLen

// SecretLen is the exact length of a freshly generated secret.
const SecretLen = len(SchemeMarker) + secretEntropyBytes*2

// Bounds accepted by IsWellFormed. Wider than SecretLen so that a future
// entropy bump does not lock out older deployments, but tight enough to
// reject garbage before any store access.
const (
	minTokenLen = PrefixLen + 16
	maxTokenLen = 128
)

// SecretHasher derives and checks the one-way hash stored for a secret.
// Implementations must be slow and salted; the cost is the security
// property the verifier relies on.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
}

// Generated is the output of one credential generation. Secret is
// returned to the caller exactly once and never stored.
type Generated struct {
	Secret string
	Hash   string
	Prefix string
}

// Codec generates credentials and derives their storage hash.
type Codec struct {
	hasher SecretHasher
}

// NewCodec creates a Codec backed by the given hasher.
func NewCodec(hasher SecretHasher) *Codec {
	return &Codec{hasher: hasher}
}

// Generate produces a new secret, its one-way hash, and its non-secret
// prefix. The prefix is derived deterministically from the secret at
// creation and is never recomputed afterwards.
func (c *Codec) Generate() (Generated, error) {
	raw := make([]byte, secretEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return Generated{}, fmt.Errorf("generate secret: %w", err)
	}
	secret := SchemeMarker + hex.EncodeToString(raw)

	hash, err := c.hasher.Hash(secret)
	if err != nil {
		return Generated{}, fmt.Errorf("hash secret: %w", err)
	}

	return Generated{
		Secret: secret,
		Hash:   hash,
		Prefix: secret[:PrefixLen],
	}, nil
}

// IsWellFormed is a cheap structural check used to reject obviously
// invalid input before touching the store. It never panics on arbitrary
// input.
func IsWellFormed(candidate string) bool {
	if !strings.HasPrefix(candidate, SchemeMarker) {
		return false
	}
	return len(candidate) >= minTokenLen && len(candidate) <= maxTokenLen
}

// ExtractPrefix returns the indexable prefix of a candidate token. Pure
// string slicing, no I/O. Malformed input yields ok=false.
func ExtractPrefix(candidate string) (string, bool) {
	if !IsWellFormed(candidate) {
		return "", false
	}
	return candidate[:PrefixLen], true
}
