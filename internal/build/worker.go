package build

import (
	"context"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// fileJob is the per-file work of one Created event.
type fileJob struct {
	path    pak.InputPath
	disk    pak.DiskPath
	modTime time.Time
	// config is set for the revision config file at a mapping root.
	config bool
}

// process reads, hashes and classifies one file. It never touches the Pak;
// everything it learns is returned as actions.
func (b *Builder) process(ctx context.Context, job fileJob) []AddAction {
	data, err := os.ReadFile(job.disk.String())
	if err != nil {
		return []AddAction{errorAction(job.path,
			errors.NewIOError(errors.ErrCodeReadFailed, "reading input", err).WithPath(job.path.String()))}
	}

	hash := pak.HashBytes(data)
	in := pak.Input{
		Path:        job.path,
		Hash:        hash,
		MTime:       job.modTime,
		Size:        int64(len(data)),
		ContentType: pak.ContentTypeOf(job.path),
	}
	actions := []AddAction{{Kind: ActionInsertInput, Path: job.path, Input: in}}

	class := pak.Classify(job.path)
	switch {
	case class == pak.ClassPage:
		actions = append(actions, AddAction{
			Kind: ActionInsertPage,
			Path: job.path,
			Page: pak.Page{Hash: hash, Path: job.path, Markup: string(data)},
		})
	case class == pak.ClassTemplate:
		actions = append(actions, AddAction{
			Kind:     ActionInsertTemplate,
			Path:     job.path,
			Template: pak.Template{Hash: hash, Path: job.path, Source: string(data)},
		})
	case class == pak.ClassRevisionConfig && job.config:
		var cfg pak.RevisionConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return []AddAction{errorAction(job.path,
				errors.WrapValidation(err, errors.ErrCodeInvalidInput, "parsing revision config").WithPath(job.path.String()))}
		}
		cfg.Source = job.path
		actions = append(actions, AddAction{Kind: ActionSetRevisionConfig, Path: job.path, Config: cfg})
	case class == pak.ClassFont:
		family, weight, style := pak.FontFace(job.path)
		actions = append(actions, AddAction{
			Kind: ActionInsertFont,
			Path: job.path,
			Font: pak.Font{
				Path:   job.path,
				Hash:   hash,
				Family: family,
				Weight: weight,
				Style:  style,
				Format: job.path.Ext(),
				Data:   data,
			},
		})
	case class.IsMedia():
		props, err := b.mediaProps(ctx, job.path, hash, data)
		if err != nil {
			return []AddAction{errorAction(job.path, err)}
		}
		actions = append(actions, AddAction{Kind: ActionInsertMediaProps, Path: job.path, MediaProps: props})
	}

	return actions
}

// mediaProps consults the cache before probing.
func (b *Builder) mediaProps(ctx context.Context, p pak.InputPath, hash pak.ContentHash, data []byte) (pak.MediaProps, error) {
	if props, ok := b.props.Get(hash); ok {
		b.metrics.ProbeCacheResult(true)
		return props, nil
	}
	b.metrics.ProbeCacheResult(false)

	props, err := b.prober.Probe(ctx, p, data)
	if err != nil {
		return pak.MediaProps{}, errors.Wrap(err, errors.TypeOf(err), errors.ErrCodeProbeFailed, "probing media").WithPath(p.String())
	}
	b.props.Insert(hash, props)

	return props, nil
}
