package services

import (
	"context"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// PushResult summarizes one push.
type PushResult struct {
	Revision pak.RevisionID
	// Inputs is the number of inputs in the revision, Uploaded how many of
	// them the authority was missing.
	Inputs   int
	Uploaded int
	Bytes    int64
}

// Push makes p available to the authority: inputs it lacks are uploaded
// after checking their bytes still hash to the manifest, then the
// serialized revision is stored and becomes the latest.
func (s *Site) Push(ctx context.Context, p *pak.Pak) (*PushResult, error) {
	op := logging.StartOperation(s.Logger, "push", "revision", p.ID, "inputs", len(p.Inputs))

	byKey := make(map[string]pak.Input, len(p.Inputs))
	keys := make([]string, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		key := pak.InputObjectKey(in)
		if _, dup := byKey[key]; dup {
			continue
		}
		byKey[key] = in
		keys = append(keys, key)
	}
	sort.Strings(keys)

	missing, err := s.Authority.ListMissing(ctx, keys)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, errors.Propagate(err, "listing missing inputs")
	}

	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Config.Build.Concurrency)
	for _, key := range missing {
		in, ok := byKey[key]
		if !ok {
			continue
		}
		g.Go(func() error {
			data, err := s.Inputs.ReadInput(gctx, in)
			if err != nil {
				return errors.Propagate(err, "reading "+in.Path.String())
			}
			if err := s.Authority.PutObject(gctx, key, data); err != nil {
				return errors.Propagate(err, "uploading "+in.Path.String())
			}
			uploaded.Add(int64(len(data)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	data, err := pak.Marshal(p)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	if err := s.Authority.PutRevision(ctx, p.ID, data); err != nil {
		op.EndWithError(ctx, err)
		return nil, errors.Propagate(err, "storing revision")
	}

	res := &PushResult{
		Revision: p.ID,
		Inputs:   len(keys),
		Uploaded: len(missing),
		Bytes:    uploaded.Load() + int64(len(data)),
	}
	op.End(ctx, "uploaded", res.Uploaded, "bytes", res.Bytes)

	return res, nil
}
