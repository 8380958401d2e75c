package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix is prepended to every cache key.
const KeyPrefix = "pixstory:cache"

// Key identifies one cached provider result.
type Key struct {
	// Operation is the provider operation (caption, illustrate).
	Operation string

	// Model is the backend model that produced the result.
	Model string

	// Digest is the hex SHA-256 of the operation input.
	Digest string

	// Identity is the caller the result belongs to.
	Identity string
}

// NewKey builds a key, hashing input into the digest.
func NewKey(operation, model, identity string, input []byte) Key {
	sum := sha256.Sum256(input)
	return Key{
		Operation: operation,
		Model:     model,
		Digest:    hex.EncodeToString(sum[:]),
		Identity:  identity,
	}
}

// String generates the Redis key.
// Format: pixstory:cache:operation:model:user=identity:digest
//
// Example:
//
//	pixstory:cache:caption:gpt-4o-mini:user=u1:9f86d08...
func (k Key) String() string {
	parts := []string{KeyPrefix, k.Operation}
	if k.Model != "" {
		parts = append(parts, k.Model)
	}
	if k.Identity != "" {
		parts = append(parts, "user="+k.Identity)
	}
	parts = append(parts, k.Digest)
	return strings.Join(parts, ":")
}
