// Package objectstore provides byte stores keyed by object key: a local disk
// tier, an S3-compatible tier, an in-memory tier and the Layered store that
// stacks them with waterfall reads and fan-out writes.
package objectstore

import (
	"context"
	"strings"

	"github.com/fahadfarid28/home-sub000/internal/errors"
)

// Tier is one key/value byte store. Get returns an error for which
// IsNotFound is true when the key is absent; any other error means the store
// itself is broken. Implementations are safe for concurrent use.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ErrNotFound returns the distinguished miss error for key.
func ErrNotFound(key string) error {
	return errors.ErrObjectNotFound(key)
}

// IsNotFound reports whether err is a miss rather than a storage failure.
func IsNotFound(err error) bool {
	return errors.IsNotFound(err)
}

// ReadRange reads part of key from t. A Layered store is not asked directly:
// the read goes to the fastest of its tiers that holds key, and is not
// promoted.
func ReadRange(ctx context.Context, t Tier, key string, offset, length int64) ([]byte, error) {
	l, ok := t.(*Layered)
	if !ok {
		return t.GetRange(ctx, key, offset, length)
	}

	for _, tier := range l.Tiers() {
		found, err := tier.Exists(ctx, key)
		if err != nil {
			return nil, errors.Propagate(err, "range read on "+tier.Name())
		}
		if found {
			return ReadRange(ctx, tier, key, offset, length)
		}
	}

	return nil, ErrNotFound(key)
}

// ValidateKey rejects keys that could escape a tier's root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "invalid object key").WithPath(key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return errors.NewValidationError(errors.ErrCodeInvalidInput, "invalid object key").WithPath(key)
		}
	}

	return nil
}
