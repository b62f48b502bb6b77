// Package authority is the server side of the derivation cache. It owns
// the durable store and the transcoder, and it is the single place that
// decides whether a derivation may start: a key already being computed is
// answered with AlreadyInProgress, and when MaxJobs jobs are running new
// ones get TooManyRequests.
package authority

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fahadfarid28/home-sub000/internal/compute"
	"github.com/fahadfarid28/home-sub000/internal/derivation"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/monitoring"
	"github.com/fahadfarid28/home-sub000/internal/objectstore"
	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/transcode"
)

var _ compute.Authority = (*Authority)(nil)

// RevisionStore keeps uploaded revisions.
type RevisionStore interface {
	Put(ctx context.Context, id pak.RevisionID, data []byte) error
	Get(ctx context.Context, id pak.RevisionID) ([]byte, error)
	SetLatest(ctx context.Context, id pak.RevisionID) error
}

// Options tunes an Authority.
type Options struct {
	// MaxJobs caps concurrently running derivations.
	MaxJobs int
	// JobTimeout bounds one derivation.
	JobTimeout time.Duration
}

// Job describes one running derivation.
type Job struct {
	Key     string
	Input   pak.InputPath
	Kind    derivation.Kind
	Started time.Time
}

// Authority computes derivations at most once per key at a time.
type Authority struct {
	logger     logging.Logger
	metrics    *monitoring.Metrics
	store      objectstore.Tier
	revisions  RevisionStore
	transcoder transcode.Transcoder
	opts       Options

	mu       sync.Mutex
	inflight map[string]Job
	// wg tracks jobs, which outlive the request that started them.
	wg sync.WaitGroup
}

// New creates an Authority.
func New(logger logging.Logger, metrics *monitoring.Metrics, store objectstore.Tier, revisions RevisionStore, transcoder transcode.Transcoder, opts Options) *Authority {
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}

	return &Authority{
		logger:     logger.WithComponent("authority"),
		metrics:    metrics,
		store:      store,
		revisions:  revisions,
		transcoder: transcoder,
		opts:       opts,
		inflight:   make(map[string]Job),
	}
}

// InFlight returns a snapshot of the running jobs.
func (a *Authority) InFlight() []Job {
	a.mu.Lock()
	defer a.mu.Unlock()

	jobs := make([]Job, 0, len(a.inflight))
	for _, j := range a.inflight {
		jobs = append(jobs, j)
	}

	return jobs
}

// Wait blocks until every started job has finished.
func (a *Authority) Wait() {
	a.wg.Wait()
}

// Derive implements compute.Authority. The first request for a key runs
// the job and answers Done once the output is stored; if that request goes
// away the job keeps running and its key stays in flight until it ends.
func (a *Authority) Derive(ctx context.Context, req compute.DeriveRequest) (compute.DeriveResponse, error) {
	kind := req.Derivation.Kind
	if err := kind.Validate(); err != nil {
		return compute.DeriveResponse{}, err
	}
	if req.Derivation.Input != req.Input.Path {
		return compute.DeriveResponse{}, errors.NewValidationError(errors.ErrCodeInvalidInput, "derivation is for another input").WithPath(req.Input.Path.String())
	}
	if req.Env == "" {
		return compute.DeriveResponse{}, errors.NewValidationError(errors.ErrCodeInvalidInput, "missing environment")
	}
	key := derivation.CacheKey(req.Env, req.Input, kind)

	ok, err := a.store.Exists(ctx, key)
	if err != nil {
		return compute.DeriveResponse{}, errors.Propagate(err, "checking derivation cache")
	}
	if ok {
		return compute.DeriveResponse{Status: compute.StatusDone, DestKey: key}, nil
	}

	a.mu.Lock()
	if _, busy := a.inflight[key]; busy {
		a.mu.Unlock()
		return compute.DeriveResponse{Status: compute.StatusAlreadyInProgress}, nil
	}
	if len(a.inflight) >= a.opts.MaxJobs {
		a.mu.Unlock()
		return compute.DeriveResponse{Status: compute.StatusTooManyRequests}, nil
	}
	a.inflight[key] = Job{Key: key, Input: req.Input.Path, Kind: kind, Started: time.Now()}
	a.wg.Add(1)
	a.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer a.wg.Done()
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.JobTimeout)
		defer cancel()

		err := a.run(jobCtx, key, req)

		a.mu.Lock()
		delete(a.inflight, key)
		a.mu.Unlock()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return compute.DeriveResponse{}, err
		}
		return compute.DeriveResponse{Status: compute.StatusDone, DestKey: key}, nil
	case <-ctx.Done():
		return compute.DeriveResponse{}, errors.NewTimeoutError(errors.ErrCodeTranscodeFailed, "request ended before derivation finished: "+ctx.Err().Error())
	}
}

func (a *Authority) run(ctx context.Context, key string, req compute.DeriveRequest) error {
	kind := req.Derivation.Kind
	finished := a.metrics.JobStarted(string(kind.Tag))
	defer finished()

	op := logging.StartOperation(a.logger, "derive", "key", key, "input", req.Input.Path, "kind", kind)

	data, err := a.readInput(ctx, req.Input)
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	var fonts *pak.FontCollection
	if kind.Tag == derivation.TagDrawioRender && len(req.Fonts) > 0 {
		fonts = &pak.FontCollection{}
		for _, f := range req.Fonts {
			b, err := a.readInput(ctx, f)
			if err != nil {
				op.EndWithError(ctx, err)
				return err
			}
			family, weight, style := pak.FontFace(f.Path)
			fonts.Put(pak.Font{Path: f.Path, Hash: f.Hash, Family: family, Weight: weight, Style: style, Format: f.Path.Ext(), Data: b})
		}
		if digest := fonts.Digest(); digest != kind.Fonts {
			err := errors.NewValidationError(errors.ErrCodeInvalidInput, "font inputs do not match the derivation").
				WithContext("expected", kind.Fonts).
				WithContext("actual", digest)
			op.EndWithError(ctx, err)
			return err
		}
	}

	out, err := a.transcoder.Transcode(ctx, transcode.Request{Input: req.Input.Path, Data: data, Kind: kind, Fonts: fonts})
	if err != nil {
		op.EndWithError(ctx, err)
		return errors.Propagate(err, "computing derivation")
	}

	if err := a.store.Put(ctx, key, out); err != nil {
		op.EndWithError(ctx, err)
		return errors.Propagate(err, "storing derivation")
	}
	op.End(ctx, "bytes", len(out))

	return nil
}

// readInput fetches an input's bytes and checks them against its hash.
func (a *Authority) readInput(ctx context.Context, in pak.Input) ([]byte, error) {
	data, err := a.store.Get(ctx, pak.InputObjectKey(in))
	if err != nil {
		return nil, errors.Propagate(err, "reading input "+in.Path.String())
	}
	if actual := pak.HashBytes(data); actual != in.Hash {
		return nil, errors.ErrHashMismatch(in.Path.String(), in.Hash.String(), actual.String())
	}

	return data, nil
}

// ListMissing implements compute.Authority.
func (a *Authority) ListMissing(ctx context.Context, keys []string) ([]string, error) {
	missing := make([]string, 0)
	for _, key := range keys {
		if err := objectstore.ValidateKey(key); err != nil {
			return nil, err
		}
		ok, err := a.store.Exists(ctx, key)
		if err != nil {
			return nil, errors.Propagate(err, "checking object")
		}
		if !ok {
			missing = append(missing, key)
		}
	}

	return missing, nil
}

// PutObject implements compute.Authority. Inputs are verified against the
// hash embedded in their key before they are stored.
func (a *Authority) PutObject(ctx context.Context, key string, data []byte) error {
	if err := objectstore.ValidateKey(key); err != nil {
		return err
	}
	if expected, ok := inputHashOf(key); ok {
		if actual := pak.HashBytes(data); actual.String() != expected {
			return errors.ErrHashMismatch(key, expected, actual.String())
		}
	}

	if err := a.store.Put(ctx, key, data); err != nil {
		return errors.Propagate(err, "storing object")
	}
	a.logger.Debug(ctx, "stored object", "key", key, "bytes", len(data))

	return nil
}

// GetObject reads one object from the store.
func (a *Authority) GetObject(ctx context.Context, key string) ([]byte, error) {
	if err := objectstore.ValidateKey(key); err != nil {
		return nil, err
	}

	return a.store.Get(ctx, key)
}

// GetObjectRange reads part of one object from the single store tier that
// holds it.
func (a *Authority) GetObjectRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := objectstore.ValidateKey(key); err != nil {
		return nil, err
	}

	return objectstore.ReadRange(ctx, a.store, key, offset, length)
}

// PutRevision implements compute.Authority. The payload must decode as a
// Pak carrying the same id.
func (a *Authority) PutRevision(ctx context.Context, id pak.RevisionID, data []byte) error {
	p, err := pak.Unmarshal(data)
	if err != nil {
		return err
	}
	if p.ID != id {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "revision id does not match payload").
			WithContext("url", id.String()).
			WithContext("payload", p.ID.String())
	}

	if err := a.revisions.Put(ctx, id, data); err != nil {
		return err
	}
	if err := a.revisions.SetLatest(ctx, id); err != nil {
		return err
	}
	a.logger.Info(ctx, "revision uploaded", "revision", id, "inputs", len(p.Inputs))

	return nil
}

// GetRevision returns a serialized revision.
func (a *Authority) GetRevision(ctx context.Context, id pak.RevisionID) ([]byte, error) {
	return a.revisions.Get(ctx, id)
}

// inputHashOf extracts the hash from inputs/{h[0:2]}/{h}.{ext}.
func inputHashOf(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "inputs/")
	if !ok {
		return "", false
	}
	_, name, ok := strings.Cut(rest, "/")
	if !ok {
		return "", false
	}
	hash, _, _ := strings.Cut(name, ".")

	return hash, hash != ""
}
