// Package transcode probes media inputs and computes derivation outputs.
//
// Prober and Transcoder are the seams the build and the compute authority
// depend on. Exec is the default implementation: it decodes what the
// standard library can in-process and shells out to an allowlisted set of
// tools for everything else.
package transcode

import (
	"context"

	"github.com/fahadfarid28/home-sub000/internal/derivation"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// Prober computes the media properties of one input.
type Prober interface {
	Probe(ctx context.Context, path pak.InputPath, data []byte) (pak.MediaProps, error)
}

// Request is one transcoding job.
type Request struct {
	Input pak.InputPath
	Data  []byte
	Kind  derivation.Kind
	// Fonts are embedded into diagram renders.
	Fonts *pak.FontCollection
}

// Transcoder computes the output bytes of a derivation.
type Transcoder interface {
	Transcode(ctx context.Context, req Request) ([]byte, error)
}
