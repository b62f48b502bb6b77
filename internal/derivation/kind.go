// Package derivation describes servable asset variants and plans them for a
// whole revision.
//
// A Derivation is a recipe (an input plus a Kind). Its key is a pure
// function of the input's content hash, the kind parameters and
// PipelineVersion, so cached outputs survive restarts and are invalidated
// when the transcoding pipeline changes. Plan turns a Pak into routes and
// assets with no hidden inputs: the same Pak always yields the same Plan.
package derivation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// KindTag names the transformation a derivation applies.
type KindTag string

const (
	TagIdentity       KindTag = "identity"
	TagPassthrough    KindTag = "passthrough"
	TagBitmap         KindTag = "bitmap"
	TagVideo          KindTag = "video"
	TagVideoThumbnail KindTag = "video_thumbnail"
	TagDrawioRender   KindTag = "drawio_render"
	TagSvgCleanup     KindTag = "svg_cleanup"
)

// Kind is a tagged variant. Only the fields of the active tag are set; use
// the constructors below rather than building it by hand.
type Kind struct {
	Tag KindTag `json:"tag" msgpack:"tag"`
	// Codec is the destination codec for Bitmap and VideoThumbnail.
	Codec string `json:"codec,omitempty" msgpack:"codec,omitempty"`
	// MaxWidth is the resize bound in pixels for Bitmap; zero keeps the source width.
	MaxWidth   uint32 `json:"max_width,omitempty" msgpack:"max_width,omitempty"`
	Container  string `json:"container,omitempty" msgpack:"container,omitempty"`
	VideoCodec string `json:"video_codec,omitempty" msgpack:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty" msgpack:"audio_codec,omitempty"`
	// Fonts is the digest of the font collection a diagram is rendered with.
	Fonts string `json:"fonts,omitempty" msgpack:"fonts,omitempty"`
}

// Identity serves the input bytes unchanged under a cache-busted route.
func Identity() Kind { return Kind{Tag: TagIdentity} }

// Passthrough serves the input bytes unchanged.
func Passthrough() Kind { return Kind{Tag: TagPassthrough} }

// Bitmap recodes an image, optionally bounding its width.
func Bitmap(codec string, maxWidth uint32) Kind {
	return Kind{Tag: TagBitmap, Codec: codec, MaxWidth: maxWidth}
}

// Video recodes a video into container with the given codecs.
func Video(container, videoCodec, audioCodec string) Kind {
	return Kind{Tag: TagVideo, Container: container, VideoCodec: videoCodec, AudioCodec: audioCodec}
}

// VideoThumbnail extracts the first frame of a video.
func VideoThumbnail(codec string) Kind { return Kind{Tag: TagVideoThumbnail, Codec: codec} }

// DrawioRender renders a draw.io diagram to SVG with the tenant's fonts embedded.
func DrawioRender(fontsDigest string) Kind { return Kind{Tag: TagDrawioRender, Fonts: fontsDigest} }

// SvgCleanup injects a viewBox and minifies an SVG.
func SvgCleanup() Kind { return Kind{Tag: TagSvgCleanup} }

// ServesInput reports whether the kind serves the raw input object as is,
// which means it never needs the compute authority.
func (k Kind) ServesInput() bool {
	return k.Tag == TagIdentity || k.Tag == TagPassthrough
}

// Params is the canonical text of the kind parameters that enters the key.
func (k Kind) Params() string {
	switch k.Tag {
	case TagBitmap:
		return fmt.Sprintf("bitmap;codec=%s;max_width=%d", k.Codec, k.MaxWidth)
	case TagVideo:
		return fmt.Sprintf("video;container=%s;video=%s;audio=%s", k.Container, k.VideoCodec, k.AudioCodec)
	case TagVideoThumbnail:
		return "video_thumbnail;codec=" + k.Codec
	case TagDrawioRender:
		return "drawio_render;fonts=" + k.Fonts
	default:
		return string(k.Tag)
	}
}

func (k Kind) String() string { return k.Params() }

// OutputExt is the file extension of the derived bytes for input.
func (k Kind) OutputExt(input pak.InputPath) string {
	switch k.Tag {
	case TagBitmap, TagVideoThumbnail:
		return k.Codec
	case TagVideo:
		return k.Container
	case TagDrawioRender, TagSvgCleanup:
		return "svg"
	default:
		return input.Ext()
	}
}

// ContentType of the derived bytes.
func (k Kind) ContentType(input pak.InputPath) string {
	return pak.ContentTypeForExt(k.OutputExt(input))
}

// Validate checks that the fields of the active tag are set.
func (k Kind) Validate() error {
	switch k.Tag {
	case TagIdentity, TagPassthrough, TagSvgCleanup, TagDrawioRender:
		return nil
	case TagBitmap, TagVideoThumbnail:
		if !knownBitmapCodecs[k.Codec] {
			return errors.NewValidationError(errors.ErrCodeUnsupportedKind, "unknown bitmap codec "+strconv.Quote(k.Codec))
		}
		return nil
	case TagVideo:
		if k.Container == "" || k.VideoCodec == "" || k.AudioCodec == "" {
			return errors.NewValidationError(errors.ErrCodeUnsupportedKind, "incomplete video target "+k.Params())
		}
		return nil
	default:
		return errors.NewValidationError(errors.ErrCodeUnsupportedKind, "unknown derivation kind "+strconv.Quote(string(k.Tag)))
	}
}

var knownBitmapCodecs = map[string]bool{
	"avif": true,
	"webp": true,
	"png":  true,
	"jpg":  true,
	"gif":  true,
}

// NormalizeCodec maps codec spellings to the extension-style names used in
// kinds, e.g. "jpeg" to "jpg".
func NormalizeCodec(codec string) string {
	c := strings.ToLower(strings.TrimSpace(codec))
	if c == "jpeg" {
		return "jpg"
	}

	return c
}

// Derivation is one servable variant of an input.
type Derivation struct {
	Input pak.InputPath `json:"input" msgpack:"input"`
	Kind  Kind          `json:"kind" msgpack:"kind"`
}
