package services

import (
	"context"
	"os"

	"github.com/fahadfarid28/home-sub000/internal/compute"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

var _ compute.InputSource = (*DiskInputs)(nil)

// DiskInputs reads inputs from the mapped source directories and refuses
// bytes that no longer match the manifest.
type DiskInputs struct {
	mappings pak.PathMappings
}

// NewDiskInputs creates a reader over mappings.
func NewDiskInputs(mappings pak.PathMappings) *DiskInputs {
	return &DiskInputs{mappings: mappings}
}

// ReadInput returns the bytes of in, verified against in.Hash.
func (d *DiskInputs) ReadInput(ctx context.Context, in pak.Input) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	disk, err := d.mappings.ToDiskPath(in.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(disk.String())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError(errors.ErrCodeObjectNotFound, "input vanished from disk").WithPath(in.Path.String())
		}
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "reading input", err).WithPath(disk.String())
	}
	if got := pak.HashBytes(data); got != in.Hash {
		return nil, errors.ErrHashMismatch(in.Path.String(), in.Hash.String(), got.String())
	}

	return data, nil
}
