package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/fahadfarid28/home-sub000/internal/errors"
)

// Disk stores objects as files under a root directory, one file per key.
type Disk struct {
	root string
}

// NewDisk creates the root directory if needed.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "creating store directory", err).WithPath(root)
	}

	return &Disk{root: root}, nil
}

// Name returns the tier name
func (d *Disk) Name() string { return "disk" }

// Root returns the directory objects are stored under.
func (d *Disk) Root() string { return d.root }

func (d *Disk) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	return filepath.Join(d.root, filepath.FromSlash(key)), nil
}

// Get reads the object stored at key.
func (d *Disk) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound(key)
		}
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "reading object", err).WithPath(key)
	}

	return data, nil
}

// GetRange reads up to length bytes starting at offset. The buffer never
// exceeds what the file holds past offset.
func (d *Disk) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "negative range").WithPath(key)
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound(key)
		}
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "opening object", err).WithPath(key)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "stat object", err).WithPath(key)
	}
	if offset >= info.Size() {
		return []byte{}, nil
	}
	if rest := info.Size() - offset; length > rest {
		length = rest
	}

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "reading object range", err).WithPath(key)
	}

	return buf[:n], nil
}

// Put writes data to a temporary file and renames it over the final path, so
// readers never observe a partial object.
func (d *Disk) Put(ctx context.Context, key string, data []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "creating shard directory", err).WithPath(key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "creating temp file", err).WithPath(key)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, "writing object", err).WithPath(key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, "closing object", err).WithPath(key)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, "renaming object", err).WithPath(key)
	}

	return nil
}

// Exists reports whether key is stored.
func (d *Disk) Exists(ctx context.Context, key string) (bool, error) {
	p, err := d.path(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, errors.NewIOError(errors.ErrCodeReadFailed, "stat object", err).WithPath(key)
}
