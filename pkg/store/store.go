// Package store holds session data in one or more key/value tiers.
//
// A tier is a Layer over raw bytes: an in-process memory map for a single
// portal instance, optionally backed by Redis so that several instances
// see the same sessions. Tiered reads through the tiers in order.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Layer is one storage tier.
type Layer interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value for ttl. A zero ttl uses the layer default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the tier in logs and metrics.
	Name() string

	// Close releases resources held by the layer.
	Close() error
}

var (
	// ErrNotFound is returned when a key has no live value.
	ErrNotFound = errors.New("store: key not found")

	// ErrInvalidKey is returned for empty, oversized or malformed keys.
	ErrInvalidKey = errors.New("store: invalid key")

	// ErrClosed is returned by a layer after Close.
	ErrClosed = errors.New("store: closed")
)

// IsNotFound reports whether err is a miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// MaxKeyLength bounds key size.
const MaxKeyLength = 250

// ValidateKey checks that key is non-empty, at most MaxKeyLength bytes
// and free of whitespace and control characters.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}
	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: key contains whitespace or control character", ErrInvalidKey)
		}
	}
	return nil
}

// Namespace builds keys of the form prefix:part:part.
type Namespace struct {
	prefix string
}

// NewNamespace creates a namespace. Parts are joined with ":".
func NewNamespace(parts ...string) Namespace {
	return Namespace{prefix: strings.Join(parts, ":")}
}

// Key joins parts under the namespace.
func (n Namespace) Key(parts ...string) string {
	if len(parts) == 0 {
		return n.prefix
	}
	return n.prefix + ":" + strings.Join(parts, ":")
}

// Sub returns a nested namespace.
func (n Namespace) Sub(parts ...string) Namespace {
	return Namespace{prefix: n.Key(parts...)}
}

// String returns the prefix.
func (n Namespace) String() string {
	return n.prefix
}
