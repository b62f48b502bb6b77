package objectstore

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/monitoring"
)

// Layered stacks tiers fastest first. Reads fall through the tiers and copy a
// hit into every faster tier; writes go to all tiers at once.
type Layered struct {
	tiers   []Tier
	logger  logging.Logger
	metrics *monitoring.Metrics
}

// NewLayered creates a layered store over tiers, fastest first.
func NewLayered(logger logging.Logger, metrics *monitoring.Metrics, tiers ...Tier) *Layered {
	return &Layered{
		tiers:   tiers,
		logger:  logger.WithComponent("objectstore"),
		metrics: metrics,
	}
}

// Name lists the tier names, e.g. "layered(disk,s3)".
func (l *Layered) Name() string {
	names := make([]string, len(l.tiers))
	for i, t := range l.tiers {
		names[i] = t.Name()
	}

	return "layered(" + strings.Join(names, ",") + ")"
}

// Tiers returns the underlying tiers, fastest first.
func (l *Layered) Tiers() []Tier {
	return l.tiers
}

// Get returns the object from the fastest tier holding it. A NotFound from a
// tier falls through to the next one; any other error aborts the lookup. On a
// hit in tier i, tiers 0..i-1 are filled before Get returns.
func (l *Layered) Get(ctx context.Context, key string) ([]byte, error) {
	for i, tier := range l.tiers {
		data, err := tier.Get(ctx, key)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, errors.Propagate(err, "layered get from "+tier.Name())
		}

		l.metrics.StoreLookup(tier.Name())
		l.promote(ctx, key, data, l.tiers[:i])

		return data, nil
	}

	l.metrics.StoreLookup("miss")

	return nil, ErrNotFound(key)
}

// promote copies a hit into faster tiers. A failed copy only costs a slower
// read next time, so it is logged rather than returned.
func (l *Layered) promote(ctx context.Context, key string, data []byte, upper []Tier) {
	for _, tier := range upper {
		if err := tier.Put(ctx, key, data); err != nil {
			l.logger.Warn(ctx, err, "promotion failed", "key", key, "tier", tier.Name())
		}
	}
}

// GetRange is not supported across tiers; range reads must go to one tier.
// ReadRange picks that tier.
func (l *Layered) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	return nil, errors.NewValidationError(errors.ErrCodeRangeUnsupported,
		"range reads are not supported by the layered store").WithPath(key)
}

// Put writes to every tier concurrently and fails if any tier fails. Tiers
// that already succeeded keep the object.
func (l *Layered) Put(ctx context.Context, key string, data []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tier := range l.tiers {
		tier := tier
		g.Go(func() error {
			if err := tier.Put(gctx, key, data); err != nil {
				return errors.Propagate(err, "layered put to "+tier.Name())
			}
			return nil
		})
	}

	return g.Wait()
}

// Exists reports whether any tier holds key.
func (l *Layered) Exists(ctx context.Context, key string) (bool, error) {
	for _, tier := range l.tiers {
		ok, err := tier.Exists(ctx, key)
		if err != nil {
			return false, errors.Propagate(err, "layered exists on "+tier.Name())
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}
