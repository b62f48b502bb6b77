// Package scanner detects changes between the source tree on disk and the
// manifest of a previous revision.
//
// Size and mtime are only a hint: a file whose metadata changed is re-hashed,
// and its content hash decides whether the change is real (Modified) or just
// timestamp churn (NewMetadata).
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

var ignoredSuffixes = []string{".swp", ".swx", ".tmp", ".part", ".crdownload", "~"}

var ignoredNames = map[string]bool{
	".DS_Store": true,
	".git":      true,
}

// ShouldIgnore reports whether a file or directory name is skipped by scans
// and by the watcher.
func ShouldIgnore(name string) bool {
	if ignoredNames[name] {
		return true
	}
	lower := strings.ToLower(name)
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}

	return false
}

// FileMeta is the metadata of one file found on disk.
type FileMeta struct {
	Disk    pak.DiskPath
	Size    int64
	ModTime time.Time
}

// FileScanner walks the mapped roots of a tenant.
type FileScanner struct {
	mappings pak.PathMappings
	logger   logging.Logger
	workers  int
}

// NewFileScanner creates a scanner over mappings. Hashing runs on up to
// workers goroutines; zero means one per CPU.
func NewFileScanner(mappings pak.PathMappings, logger logging.Logger, workers int) *FileScanner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &FileScanner{
		mappings: mappings,
		logger:   logger.WithComponent("scanner"),
		workers:  workers,
	}
}

// Snapshot returns the current metadata of every non-ignored file under the
// mapped roots. A missing root is treated as empty.
func (s *FileScanner) Snapshot(ctx context.Context) (map[pak.InputPath]FileMeta, error) {
	out := make(map[pak.InputPath]FileMeta)

	for _, rule := range s.mappings {
		root := filepath.FromSlash(rule.DiskPrefix.String())
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && p == root {
					return filepath.SkipDir
				}
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if p != root && ShouldIgnore(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			in, err := s.mappings.ToInputPath(pak.DiskPath(p))
			if err != nil {
				return err
			}
			if _, seen := out[in]; seen {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			out[in] = FileMeta{Disk: pak.DiskPath(filepath.ToSlash(p)), Size: info.Size(), ModTime: info.ModTime()}

			return nil
		})
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeReadFailed, "walking source tree", err).WithPath(root)
		}
	}

	return out, nil
}

// WakeDiff compares the tree on disk with prev and returns the change events,
// sorted by path:
//   - same size and mtime: nothing;
//   - metadata changed, same bytes: NewMetadata;
//   - bytes changed: Modified;
//   - unknown path: Created;
//   - known path missing from disk: Removed.
func (s *FileScanner) WakeDiff(ctx context.Context, prev *pak.Pak) ([]pak.InputEvent, error) {
	current, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		events []pak.InputEvent
	)
	emit := func(ev pak.InputEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for path, meta := range current {
		old, known := prev.Inputs[path]
		if !known {
			emit(pak.Created(path))
			continue
		}
		if old.Size == meta.Size && old.MTime.Equal(meta.ModTime) {
			continue
		}

		path, meta, old := path, meta, old
		g.Go(func() error {
			hash, err := hashFile(gctx, meta.Disk)
			if err != nil {
				return err
			}
			if hash == old.Hash {
				emit(pak.NewMetadata(path))
			} else {
				emit(pak.Modified(path))
			}
			return nil
		})
	}

	for path := range prev.Inputs {
		if _, ok := current[path]; !ok {
			emit(pak.Removed(path))
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Path != events[j].Path {
			return events[i].Path < events[j].Path
		}
		return events[i].Kind < events[j].Kind
	})

	s.logger.Debug(ctx, "wake diff computed", "files", len(current), "events", len(events))

	return events, nil
}

func hashFile(ctx context.Context, p pak.DiskPath) (pak.ContentHash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(filepath.FromSlash(p.String()))
	if err != nil {
		return "", errors.NewIOError(errors.ErrCodeReadFailed, "opening file", err).WithPath(p.String())
	}
	defer f.Close()

	hash, _, err := pak.HashReader(f)
	if err != nil {
		return "", errors.NewIOError(errors.ErrCodeReadFailed, "hashing file", err).WithPath(p.String())
	}

	return hash, nil
}
