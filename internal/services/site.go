// Package services holds Site, the context object every CLI entry point
// works through. It owns the stores, caches and clients built from the
// configuration; nothing here is process-global.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fahadfarid28/home-sub000/internal/authority"
	"github.com/fahadfarid28/home-sub000/internal/build"
	"github.com/fahadfarid28/home-sub000/internal/compute"
	"github.com/fahadfarid28/home-sub000/internal/config"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/fragment"
	"github.com/fahadfarid28/home-sub000/internal/indexer"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/mediaprops"
	"github.com/fahadfarid28/home-sub000/internal/monitoring"
	"github.com/fahadfarid28/home-sub000/internal/objectstore"
	"github.com/fahadfarid28/home-sub000/internal/renderer"
	"github.com/fahadfarid28/home-sub000/internal/revstore"
	"github.com/fahadfarid28/home-sub000/internal/transcode"
	"github.com/fahadfarid28/home-sub000/internal/version"
)

// Media probes and transcodes media inputs.
type Media interface {
	transcode.Prober
	transcode.Transcoder
}

// Option customizes NewSite.
type Option func(*siteOptions)

type siteOptions struct {
	media    Media
	registry *prometheus.Registry
}

// WithMedia replaces the external-tool prober and transcoder.
func WithMedia(m Media) Option {
	return func(o *siteOptions) { o.media = m }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *siteOptions) { o.registry = reg }
}

// Site is everything a build, push or derive needs.
type Site struct {
	Config   *config.Config
	Logger   logging.Logger
	Registry *prometheus.Registry
	Metrics  *monitoring.Metrics
	Health   *monitoring.Health

	// Store is the layered object store, fastest tier first.
	Store     *objectstore.Layered
	Revisions *revstore.Store
	Props     *mediaprops.Cache
	Media     Media

	// Authority is the remote client, or LocalAuthority when compute.url is
	// empty.
	Authority      compute.Authority
	LocalAuthority *authority.Authority
	Compute        *compute.Service

	Builder *build.Builder
	Indexer *indexer.Indexer
	Inputs  *DiskInputs

	mu      sync.Mutex
	current *indexer.Revision
	closers []func() error
}

// NewSite opens the state directory and wires every component from cfg.
func NewSite(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*Site, error) {
	var o siteOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	s := &Site{
		Config:   cfg,
		Logger:   logger,
		Registry: o.registry,
		Metrics:  monitoring.NewMetrics(o.registry),
		Health:   monitoring.NewHealth(logger, version.GetVersion(), 5*time.Second),
		Inputs:   NewDiskInputs(cfg.Tenant.PathMappings),
	}

	if err := s.open(ctx, o); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Site) open(ctx context.Context, o siteOptions) error {
	cfg := s.Config

	s.Media = o.media
	if s.Media == nil {
		s.Media = transcode.NewExec(s.Logger, cfg.Authority.WorkDir)
	}

	props, err := mediaprops.Open(ctx, cfg.MediaPropsPath())
	if err != nil {
		return errors.Propagate(err, "opening media props cache")
	}
	s.Props = props
	s.closers = append(s.closers, props.Close)

	revisions, err := revstore.Open(cfg.RevisionsPath(), s.Logger)
	if err != nil {
		return errors.Propagate(err, "opening revision store")
	}
	s.Revisions = revisions
	s.closers = append(s.closers, revisions.Close)

	disk, err := objectstore.NewDisk(cfg.Store.LocalDir)
	if err != nil {
		return errors.Propagate(err, "opening local object store")
	}
	tiers := []objectstore.Tier{disk}
	if cfg.Store.S3.Enabled() {
		s3, err := objectstore.NewS3(objectstore.S3Config{
			Endpoint:  cfg.Store.S3.Endpoint,
			Bucket:    cfg.Store.S3.Bucket,
			Prefix:    cfg.Store.S3.Prefix,
			Region:    cfg.Store.S3.Region,
			UseSSL:    cfg.Store.S3.UseSSL,
			AccessKey: cfg.Store.S3.AccessKey,
			SecretKey: cfg.Store.S3.SecretKey,
		})
		if err != nil {
			return err
		}
		tiers = append(tiers, s3)
	}

	if cfg.Compute.URL != "" {
		client, err := compute.NewClient(cfg.Compute.URL, cfg.Compute.Token, cfg.Compute.Timeout)
		if err != nil {
			return err
		}
		s.Authority = client
		// Outputs computed remotely are read back through the authority.
		tiers = append(tiers, client.Tier())
		s.Store = objectstore.NewLayered(s.Logger, s.Metrics, tiers...)
	} else {
		s.Store = objectstore.NewLayered(s.Logger, s.Metrics, tiers...)
		s.LocalAuthority = authority.New(s.Logger, s.Metrics, s.Store, revisions, s.Media, authority.Options{
			MaxJobs:    cfg.Authority.MaxJobs,
			JobTimeout: cfg.Authority.JobTimeout,
		})
		s.Authority = s.LocalAuthority
		s.closers = append(s.closers, func() error {
			s.LocalAuthority.Wait()
			return nil
		})
	}

	retry := compute.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Compute.MaxAttempts
	s.Compute = compute.NewService(s.Logger, s.Metrics, s.Store, s.Authority, s.Inputs, compute.Config{
		Env:         cfg.Environment,
		Development: cfg.Development,
		Retry:       retry,
	})

	s.Builder = build.NewBuilder(s.Logger, s.Metrics, s.Media, s.Props, build.Options{
		Concurrency:  cfg.Build.Concurrency,
		DrainTimeout: cfg.Build.DrainTimeout,
	})
	s.Indexer = indexer.New(s.Logger, fragment.New(), renderer.New(), nil, indexer.Options{
		IncludeDrafts: cfg.Build.IncludeDrafts,
		Cache:         indexer.NewStoreCache(disk),
	})

	s.Health.Register("revisions", true, func(ctx context.Context) error {
		_, err := s.Revisions.Latest(ctx)
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	})
	s.Health.Register("store", false, func(ctx context.Context) error {
		_, err := disk.Exists(ctx, "health/probe")
		return err
	})

	return nil
}

// Current returns the last revision built or loaded by this site, or nil.
func (s *Site) Current() *indexer.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

func (s *Site) setCurrent(rev *indexer.Revision) {
	s.mu.Lock()
	s.current = rev
	s.mu.Unlock()
}

// Close releases the stores, in reverse order of opening.
func (s *Site) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil

	return first
}
