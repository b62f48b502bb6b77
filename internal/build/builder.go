// Package build turns change events into a new Pak.
//
// A build has exactly one orchestrator goroutine, the only code that ever
// mutates the Pak. It pulls events off a FIFO queue, expands directories in
// place, and hands each file to a worker bounded by a weighted semaphore.
// Workers read, hash, classify and probe, then send their findings back as
// a batch of AddActions which the orchestrator applies serially.
package build

import (
	"context"
	"os"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/mediaprops"
	"github.com/fahadfarid28/home-sub000/internal/monitoring"
	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/scanner"
	"github.com/fahadfarid28/home-sub000/internal/transcode"
)

// Defaults for Options.
const (
	DefaultConcurrency  = 4
	DefaultDrainTimeout = 5 * time.Second
)

// RequestKind selects how the starting Pak and the events are obtained.
type RequestKind uint8

const (
	// KindFromScratch builds an empty Pak from every mapped root.
	KindFromScratch RequestKind = iota + 1
	// KindWake diffs the disk against Prev.
	KindWake
	// KindIncremental applies caller-provided events to Prev.
	KindIncremental
)

// String returns the kind as it appears in logs and metrics.
func (k RequestKind) String() string {
	switch k {
	case KindFromScratch:
		return "from_scratch"
	case KindWake:
		return "wake"
	case KindIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// Request describes one build.
type Request struct {
	// Kind picks the starting Pak and where events come from.
	Kind RequestKind
	// Prev is the revision to start from; nil for KindFromScratch.
	Prev *pak.Pak
	// Events are applied in order on top of Prev for KindIncremental.
	Events []pak.InputEvent
	// Mappings translate between input and disk paths. Only the config
	// file at a mapping root is read as revision config.
	Mappings pak.PathMappings
}

// FromScratch requests a full build.
func FromScratch(mappings pak.PathMappings) Request {
	return Request{Kind: KindFromScratch, Mappings: mappings}
}

// Wake requests a build of whatever changed on disk since prev.
func Wake(prev *pak.Pak, mappings pak.PathMappings) Request {
	return Request{Kind: KindWake, Prev: prev, Mappings: mappings}
}

// Incremental requests a build applying events to prev.
func Incremental(prev *pak.Pak, events []pak.InputEvent, mappings pak.PathMappings) Request {
	return Request{Kind: KindIncremental, Prev: prev, Events: events, Mappings: mappings}
}

// Result is the outcome of a build.
type Result struct {
	// Pak is the new revision, or Prev when nothing changed.
	Pak *pak.Pak
	// Changed is false when the build short-circuited and Pak is the previous one.
	Changed bool
	// Events is the number of normalized events applied.
	Events int
	// Dropped is the number of files whose results arrived after the drain timeout.
	Dropped int
	// Duration is the wall time of the whole build.
	Duration time.Duration
}

// Options tunes a Builder.
type Options struct {
	// Concurrency is the number of files read and probed at once.
	Concurrency int
	// DrainTimeout bounds the wait for in-flight files once the queue is empty.
	DrainTimeout time.Duration
}

// Builder runs builds. It is safe to reuse across builds but not to run two
// builds at once with the same media props cache being committed.
type Builder struct {
	// logger reports build progress
	logger logging.Logger
	// metrics records build durations and per-file counters
	metrics *monitoring.Metrics
	// prober computes media properties on a cache miss
	prober transcode.Prober
	// props is consulted before every probe and committed once per build
	props *mediaprops.Cache
	// opts holds concurrency and drain settings
	opts Options
	// newID mints revision ids
	newID func() pak.RevisionID
}

// NewBuilder creates a Builder. Zero options take the defaults.
func NewBuilder(logger logging.Logger, metrics *monitoring.Metrics, prober transcode.Prober, props *mediaprops.Cache, opts Options) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	return &Builder{
		logger:  logger.WithComponent("build"),
		metrics: metrics,
		prober:  prober,
		props:   props,
		opts:    opts,
		newID:   func() pak.RevisionID { return pak.RevisionID(uuid.NewString()) },
	}
}

// Build runs req to completion. Any per-file error fails the whole build;
// there is no partial revision.
func (b *Builder) Build(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		b.metrics.ObserveBuild(req.Kind.String(), err, time.Since(start))
	}()

	if err := req.Mappings.Validate(); err != nil {
		return nil, err
	}

	var events []pak.InputEvent
	var base *pak.Pak

	switch req.Kind {
	case KindFromScratch:
		for _, m := range req.Mappings {
			events = append(events, pak.Created(m.InputPrefix))
		}
		base = pak.New(b.newID())
	case KindWake, KindIncremental:
		if req.Prev == nil {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, req.Kind.String()+" build needs a previous revision")
		}
		events = req.Events
		if req.Kind == KindWake {
			events, err = scanner.NewFileScanner(req.Mappings, b.logger, b.opts.Concurrency).WakeDiff(ctx, req.Prev)
			if err != nil {
				return nil, errors.Propagate(err, "detecting changes")
			}
		}
		if len(events) == 0 {
			b.logger.Info(ctx, "no changes", "kind", req.Kind, "revision", req.Prev.ID)
			return &Result{Pak: req.Prev, Duration: time.Since(start)}, nil
		}
		base = req.Prev.Clone(b.newID())
	default:
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "unknown build kind")
	}

	events = Normalize(events)
	op := logging.StartOperation(b.logger, "build", "kind", req.Kind, "revision", base.ID, "events", len(events))

	o := &orchestrator{
		b:        b,
		pak:      base,
		mappings: req.Mappings,
		queue:    events,
		sem:      semaphore.NewWeighted(int64(b.opts.Concurrency)),
		results:  make(chan []AddAction, b.opts.Concurrency),
		done:     make(chan struct{}),
		seen:     make(map[pak.InputPath]bool),
	}
	dropped, err := o.run(ctx)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	base.ResolveConfig(req.Mappings)

	if err := b.props.Commit(ctx); err != nil {
		op.EndWithError(ctx, err)
		return nil, errors.Propagate(err, "committing media props")
	}

	op.End(ctx, "inputs", len(base.Inputs), "pages", len(base.Pages), "dropped", dropped)

	return &Result{
		Pak:      base,
		Changed:  true,
		Events:   len(events),
		Dropped:  dropped,
		Duration: time.Since(start),
	}, nil
}

// orchestrator is the state of one running build.
type orchestrator struct {
	b *Builder
	// pak is the revision being built; only the orchestrator goroutine
	// touches it.
	pak      *pak.Pak
	mappings pak.PathMappings
	// queue holds pending events, FIFO. Directory expansion appends to it.
	queue []pak.InputEvent
	// sem bounds the number of files in flight.
	sem *semaphore.Weighted
	// results carries one batch of actions per processed file.
	results chan []AddAction
	// done is closed when the orchestrator stops listening, so late workers
	// can drop their results instead of blocking forever.
	done chan struct{}
	// seen makes a file dispatched twice in one build processed once.
	seen map[pak.InputPath]bool
	// inFlight counts workers whose batch has not been applied yet.
	inFlight int
}

// run drains the queue, then waits for in-flight files up to the drain
// timeout. It returns the number of files whose results were discarded.
func (o *orchestrator) run(ctx context.Context) (int, error) {
	defer close(o.done)

	for len(o.queue) > 0 {
		ev := o.queue[0]
		o.queue = o.queue[1:]

		if err := o.dispatch(ctx, ev); err != nil {
			return 0, err
		}
		if err := o.applyReady(); err != nil {
			return 0, err
		}
	}

	timeout := time.NewTimer(o.b.opts.DrainTimeout)
	defer timeout.Stop()

	for o.inFlight > 0 {
		select {
		case batch := <-o.results:
			if err := o.apply(batch); err != nil {
				return 0, err
			}
		case <-timeout.C:
			o.b.logger.Warn(ctx, nil, "drain timeout elapsed, discarding late results",
				"pending", o.inFlight, "timeout", o.b.opts.DrainTimeout)
			return o.inFlight, nil
		case <-ctx.Done():
			return 0, errors.NewTimeoutError(errors.ErrCodeDrainTimeout, "build cancelled: "+ctx.Err().Error())
		}
	}

	return 0, nil
}

// dispatch handles one event. Removals are applied at once, directories are
// expanded into the queue, and each file not yet seen is handed to a worker
// as soon as a permit is free.
func (o *orchestrator) dispatch(ctx context.Context, ev pak.InputEvent) error {
	o.b.metrics.FileProcessed(ev.Kind.String())

	if ev.Kind == pak.EventRemoved {
		n := o.pak.RemovePrefix(ev.Path)
		o.b.logger.Debug(ctx, "removed", "path", ev.Path, "inputs", n)
		return nil
	}

	disk, err := o.mappings.ToDiskPath(ev.Path)
	if err != nil {
		return err
	}
	info, err := os.Stat(disk.String())
	if os.IsNotExist(err) {
		o.b.logger.Debug(ctx, "created path vanished", "path", ev.Path)
		return nil
	}
	if err != nil {
		return errors.NewIOError(errors.ErrCodeReadFailed, "stat input", err).WithPath(ev.Path.String())
	}

	if info.IsDir() {
		return o.expand(ev.Path, disk)
	}

	if o.seen[ev.Path] {
		return nil
	}
	o.seen[ev.Path] = true

	// Keep applying results while waiting for a permit so workers never
	// block on a full results channel.
	for !o.sem.TryAcquire(1) {
		select {
		case batch := <-o.results:
			if err := o.apply(batch); err != nil {
				return err
			}
		case <-ctx.Done():
			return errors.NewTimeoutError(errors.ErrCodeDrainTimeout, "build cancelled: "+ctx.Err().Error())
		}
	}

	o.inFlight++
	job := fileJob{path: ev.Path, disk: disk, modTime: info.ModTime(), config: o.mappings.IsConfigPath(ev.Path)}
	go func() {
		actions := o.b.process(ctx, job)
		o.sem.Release(1)
		select {
		case o.results <- actions:
		case <-o.done:
		}
	}()

	return nil
}

// expand queues one Created per non-ignored child, in name order.
func (o *orchestrator) expand(dir pak.InputPath, disk pak.DiskPath) error {
	entries, err := os.ReadDir(disk.String())
	if err != nil {
		return errors.NewIOError(errors.ErrCodeReadFailed, "reading directory", err).WithPath(dir.String())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if scanner.ShouldIgnore(e.Name()) {
			continue
		}
		o.queue = append(o.queue, pak.Created(pak.InputPath(path.Join(dir.String(), e.Name()))))
	}

	return nil
}

// applyReady applies every batch already waiting, without blocking.
func (o *orchestrator) applyReady() error {
	for {
		select {
		case batch := <-o.results:
			if err := o.apply(batch); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// apply applies the actions of one file in order and retires its worker.
func (o *orchestrator) apply(batch []AddAction) error {
	o.inFlight--
	for _, a := range batch {
		if err := a.apply(o.pak); err != nil {
			return errors.Propagate(err, "building "+a.Path.String())
		}
	}

	return nil
}
