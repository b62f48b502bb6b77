package services

import (
	"context"

	"github.com/fahadfarid28/home-sub000/internal/build"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/indexer"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/watcher"
)

// BuildOptions contains options for the build process
type BuildOptions struct {
	// FromScratch ignores the stored latest revision.
	FromScratch bool
}

// BuildResult contains the result of a build operation
type BuildResult struct {
	Build    *build.Result
	Revision *indexer.Revision
}

// Build produces a revision of the source tree. Unless opts.FromScratch is
// set it starts from the latest stored revision and only looks at files
// whose size or mtime changed since.
func (s *Site) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	mappings := s.Config.Tenant.PathMappings

	req := build.FromScratch(mappings)
	if !opts.FromScratch {
		prev, err := s.Revisions.LoadLatest(ctx)
		switch {
		case err == nil:
			req = build.Wake(prev, mappings)
		case errors.IsNotFound(err):
			s.Logger.Info(ctx, "no stored revision, building from scratch")
		default:
			return nil, errors.Propagate(err, "loading latest revision")
		}
	}

	return s.run(ctx, req)
}

// Rebuild applies events on top of the current revision.
func (s *Site) Rebuild(ctx context.Context, events []pak.InputEvent) (*BuildResult, error) {
	cur := s.Current()
	if cur == nil {
		return s.Build(ctx, BuildOptions{})
	}

	return s.run(ctx, build.Incremental(cur.Pak, events, s.Config.Tenant.PathMappings))
}

func (s *Site) run(ctx context.Context, req build.Request) (*BuildResult, error) {
	res, err := s.Builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	prev := s.Current()
	if !res.Changed && prev != nil && prev.Pak.ID == res.Pak.ID {
		return &BuildResult{Build: res, Revision: prev}, nil
	}

	rev, err := s.Indexer.Index(ctx, res.Pak, s.Config.Tenant.PathMappings, prev)
	if err != nil {
		return nil, errors.Propagate(err, "indexing revision "+res.Pak.ID.String())
	}
	if res.Changed || rev.DepsUpdated {
		if err := s.Revisions.SavePak(ctx, res.Pak); err != nil {
			return nil, errors.Propagate(err, "saving revision")
		}
	}
	s.setCurrent(rev)

	s.Logger.Info(ctx, "revision ready",
		"revision", rev.Pak.ID,
		"changed", res.Changed,
		"inputs", len(rev.Pak.Inputs),
		"pages", len(rev.Pages),
		"assets", len(rev.Assets),
		"rendered", rev.Rendered,
		"reused", rev.Reused,
		"duration", res.Duration)

	return &BuildResult{Build: res, Revision: rev}, nil
}

// Watch builds once, then rebuilds incrementally on every batch of file
// changes until ctx is done. A failed rebuild is logged and its events are
// retried with the next batch.
func (s *Site) Watch(ctx context.Context, onRevision func(*BuildResult)) error {
	first, err := s.Build(ctx, BuildOptions{})
	if err != nil {
		return err
	}
	if onRevision != nil {
		onRevision(first)
	}

	w, err := watcher.New(s.Logger, s.Config.Tenant.PathMappings, s.Config.Build.WatchDebounce)
	if err != nil {
		return err
	}
	defer w.Close()

	log := s.Logger.WithComponent("watch")
	var pending []pak.InputEvent

	return w.Run(ctx, func(ctx context.Context, events []pak.InputEvent) error {
		pending = append(pending, events...)
		op := logging.StartOperation(log, "rebuild", "events", len(pending))

		res, err := s.Rebuild(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			op.EndWithError(ctx, err)
			return nil
		}
		pending = nil
		op.End(ctx, "revision", res.Revision.Pak.ID)
		if onRevision != nil {
			onRevision(res)
		}
		return nil
	})
}
