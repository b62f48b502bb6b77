package compute

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fahadfarid28/home-sub000/internal/coalesce"
	"github.com/fahadfarid28/home-sub000/internal/derivation"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/monitoring"
	"github.com/fahadfarid28/home-sub000/internal/objectstore"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// InputSource reads raw input bytes from local content. It is only used in
// development, where inputs may not have been pushed yet.
type InputSource interface {
	ReadInput(ctx context.Context, in pak.Input) ([]byte, error)
}

// Config configures a Service.
type Config struct {
	// Env scopes derivation object keys, e.g. "dev" or "prod".
	Env string
	// Development makes Derive upload missing inputs before asking the authority.
	Development bool
	// Retry bounds how long Derive waits on a busy authority.
	Retry RetryPolicy
}

// Service derives asset bytes. It is safe for concurrent use.
type Service struct {
	logger  logging.Logger
	metrics *monitoring.Metrics
	// store is read before the authority is asked for anything.
	store     objectstore.Tier
	authority Authority
	// inputs backs raw reads of unpushed inputs in development.
	inputs InputSource
	cfg    Config
	// inflight coalesces concurrent derives of the same cache key.
	inflight coalesce.Group[string, []byte]
}

// NewService creates a Service reading through store. inputs may be nil
// outside development.
func NewService(logger logging.Logger, metrics *monitoring.Metrics, store objectstore.Tier, authority Authority, inputs InputSource, cfg Config) *Service {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Service{
		logger:    logger.WithComponent("compute"),
		metrics:   metrics,
		store:     store,
		authority: authority,
		inputs:    inputs,
		cfg:       cfg,
	}
}

// Env returns the key scope of this service.
func (s *Service) Env() string { return s.cfg.Env }

// Derive returns the bytes of d applied to in. fonts are the font inputs of
// the revision, needed by diagram renders.
func (s *Service) Derive(ctx context.Context, in pak.Input, d derivation.Derivation, fonts []pak.Input) ([]byte, error) {
	if err := d.Kind.Validate(); err != nil {
		return nil, err
	}
	if d.Input != in.Path {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "derivation is for another input").
			WithPath(in.Path.String()).
			WithContext("derivation_input", d.Input.String())
	}

	if d.Kind.ServesInput() {
		return s.rawInput(ctx, in)
	}

	key := derivation.CacheKey(s.cfg.Env, in, d.Kind)
	data, err := s.store.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !objectstore.IsNotFound(err) {
		return nil, errors.Propagate(err, "reading derivation cache")
	}

	return s.inflight.Query(ctx, key, func(ctx context.Context) ([]byte, error) {
		return s.compute(ctx, key, DeriveRequest{Env: s.cfg.Env, Input: in, Derivation: d, Fonts: fonts})
	})
}

// rawInput serves kinds that return the input unchanged. The stored object
// is preferred; development falls back to the local file.
func (s *Service) rawInput(ctx context.Context, in pak.Input) ([]byte, error) {
	key := pak.InputObjectKey(in)
	data, err := s.store.Get(ctx, key)
	if err == nil || !objectstore.IsNotFound(err) || !s.cfg.Development {
		return data, err
	}

	return s.readLocal(ctx, in)
}

// compute asks the authority to derive key, retrying while it answers
// AlreadyInProgress or TooManyRequests, then reads the stored output.
func (s *Service) compute(ctx context.Context, key string, req DeriveRequest) ([]byte, error) {
	if s.cfg.Development {
		inputs := append([]pak.Input{req.Input}, req.Fonts...)
		if err := s.ensureInputs(ctx, inputs); err != nil {
			return nil, err
		}
	}

	policy := newContentionBackOff(s.cfg.Retry)
	schedule := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.Retry.MaxAttempts-1)), ctx)

	attempt := func() (string, error) {
		resp, err := s.authority.Derive(ctx, req)
		if err != nil {
			s.metrics.DeriveAttempt("error")
			return "", backoff.Permanent(errors.Propagate(err, "asking compute authority"))
		}
		s.metrics.DeriveAttempt(string(resp.Status))

		switch resp.Status {
		case StatusDone:
			if resp.DestKey != key {
				return "", backoff.Permanent(errors.NewValidationError(errors.ErrCodeDeriveKeyMismatch, "authority stored the output under another key").
					WithPath(req.Input.Path.String()).
					WithContext("expected", key).
					WithContext("actual", resp.DestKey))
			}
			return resp.DestKey, nil
		case StatusAlreadyInProgress:
			policy.last = resp.Status
			return "", errors.NewContentionError(errors.ErrCodeAlreadyInProgress, "derivation already in progress").WithPath(key)
		case StatusTooManyRequests:
			policy.last = resp.Status
			return "", errors.NewContentionError(errors.ErrCodeTooManyRequests, "authority is at capacity").WithPath(key)
		default:
			return "", backoff.Permanent(errors.NewInternalError(errors.ErrCodeInternalError, "unknown authority status "+string(resp.Status), nil))
		}
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Debug(ctx, "derivation contended, backing off", "key", key, "wait", wait, "reason", err.Error())
	}

	destKey, err := backoff.RetryNotifyWithData[string](attempt, schedule, notify)
	if err != nil {
		if errors.IsContention(err) && ctx.Err() == nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, errors.ErrCodeRetriesExhausted, "derivation retries exhausted").
				WithContext("attempts", s.cfg.Retry.MaxAttempts)
		}
		return nil, err
	}

	data, err := s.store.Get(ctx, destKey)
	if err != nil {
		return nil, errors.Propagate(err, "fetching derived output")
	}

	return data, nil
}

// ensureInputs uploads inputs the authority does not have yet, verifying
// every byte slice against its manifest hash first.
func (s *Service) ensureInputs(ctx context.Context, inputs []pak.Input) error {
	byKey := make(map[string]pak.Input, len(inputs))
	keys := make([]string, 0, len(inputs))
	for _, in := range inputs {
		key := pak.InputObjectKey(in)
		if _, ok := byKey[key]; ok {
			continue
		}
		byKey[key] = in
		keys = append(keys, key)
	}

	missing, err := s.authority.ListMissing(ctx, keys)
	if err != nil {
		return errors.Propagate(err, "listing missing inputs")
	}

	for _, key := range missing {
		in, ok := byKey[key]
		if !ok {
			continue
		}
		data, err := s.readLocal(ctx, in)
		if err != nil {
			return err
		}
		if err := s.authority.PutObject(ctx, key, data); err != nil {
			return errors.Propagate(err, "uploading input")
		}
		s.logger.Debug(ctx, "uploaded input", "path", in.Path, "key", key)
	}

	return nil
}

// readLocal reads in from the InputSource and checks it against the manifest
// hash.
func (s *Service) readLocal(ctx context.Context, in pak.Input) ([]byte, error) {
	if s.inputs == nil {
		return nil, errors.ErrObjectNotFound(pak.InputObjectKey(in))
	}
	data, err := s.inputs.ReadInput(ctx, in)
	if err != nil {
		return nil, err
	}
	if actual := pak.HashBytes(data); actual != in.Hash {
		return nil, errors.ErrHashMismatch(in.Path.String(), in.Hash.String(), actual.String())
	}

	return data, nil
}
