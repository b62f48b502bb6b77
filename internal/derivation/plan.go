package derivation

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// FontsRoute serves the generated @font-face stylesheet.
const FontsRoute pak.Route = "/fonts.css"

var (
	// BitmapCodecs are offered for every bitmap, in preference order. The
	// source codec is appended when it is not one of them.
	BitmapCodecs = []string{"avif", "webp"}
	// BitmapWidths are the CSS max widths offered; 0 means the intrinsic width.
	BitmapWidths = []uint32{400, 900, 1600, 0}
	// BitmapDensities are the pixel densities offered per width.
	BitmapDensities = []uint32{1, 2}
	// ThumbnailCodecs are offered for video thumbnails; the last is the fallback.
	ThumbnailCodecs = []string{"avif", "webp", "jpg"}
)

// VideoTarget is one container/codec combination videos are offered in.
type VideoTarget struct {
	Container  string
	VideoCodec string
	AudioCodec string
}

// VideoTargets in priority order.
var VideoTargets = []VideoTarget{
	{Container: "mp4", VideoCodec: "h264", AudioCodec: "aac"},
	{Container: "webm", VideoCodec: "vp9", AudioCodec: "opus"},
}

var wellKnownEntry = regexp.MustCompile(`^(main|app|styles|runtime)[.-][0-9a-f]{6,}\.(js|css|wasm)$`)

// DensityRoute is one entry of a srcset.
type DensityRoute struct {
	Density uint32    `json:"density"`
	Route   pak.Route `json:"route"`
}

// VariantSet is a responsive image source for one codec and CSS max width.
type VariantSet struct {
	Codec    string         `json:"codec"`
	MaxWidth uint32         `json:"max_width"`
	Variants []DensityRoute `json:"variants"`
}

// VideoSource is one <source> of a video element.
type VideoSource struct {
	ContentType string    `json:"content_type"`
	Route       pak.Route `json:"route"`
}

// Media is what markup needs to reference a media input.
type Media struct {
	Kind        pak.MediaKind  `json:"kind"`
	Props       pak.MediaProps `json:"props"`
	Route       pak.Route      `json:"route"`
	VariantSets []VariantSet   `json:"variant_sets,omitempty"`
	Sources     []VideoSource  `json:"sources,omitempty"`
	Thumbnail   pak.Route      `json:"thumbnail,omitempty"`
}

// Plan is every servable asset of a revision.
type Plan struct {
	Assets map[pak.Route]Asset
	// AssetRoutes is the canonical route of each input.
	AssetRoutes map[pak.InputPath]pak.Route
	Media       map[pak.InputPath]Media
}

// Build plans p. It has no side effects and depends on nothing but p.
func Build(p *pak.Pak) (*Plan, error) {
	pl := &Plan{
		Assets:      make(map[pak.Route]Asset),
		AssetRoutes: make(map[pak.InputPath]pak.Route),
		Media:       make(map[pak.InputPath]Media),
	}

	for _, ip := range p.SortedInputPaths() {
		in := p.Inputs[ip]
		if err := pl.planInput(p, in); err != nil {
			return nil, err
		}
	}

	if err := pl.planFonts(p); err != nil {
		return nil, err
	}

	return pl, nil
}

func (pl *Plan) planInput(p *pak.Pak, in pak.Input) error {
	switch pak.Classify(in.Path) {
	case pak.ClassPage, pak.ClassTemplate, pak.ClassRevisionConfig:
		return nil
	case pak.ClassBundle:
		route, err := pl.addDerivation(in, Passthrough())
		if err != nil {
			return err
		}
		pl.AssetRoutes[in.Path] = route
		if alias, ok := wellKnownAlias(in.Path); ok {
			return pl.add(alias, DerivationAsset(Derivation{Input: in.Path, Kind: Passthrough()}))
		}
		return nil
	case pak.ClassSourceMap:
		route := pak.Route(in.Path)
		pl.AssetRoutes[in.Path] = route
		return pl.add(route, DerivationAsset(Derivation{Input: in.Path, Kind: Identity()}))
	case pak.ClassBitmap:
		return pl.planBitmap(p, in)
	case pak.ClassVideo:
		return pl.planVideo(p, in)
	case pak.ClassDiagram:
		return pl.planSingle(p, in, DrawioRender(p.Fonts.Digest()))
	case pak.ClassSVG:
		return pl.planSingle(p, in, SvgCleanup())
	default:
		// Fonts, audio and anything unrecognised.
		return pl.planSingle(p, in, Identity())
	}
}

func (pl *Plan) planSingle(p *pak.Pak, in pak.Input, kind Kind) error {
	route, err := pl.addDerivation(in, kind)
	if err != nil {
		return err
	}
	pl.AssetRoutes[in.Path] = route

	if props, ok := p.MediaProps[in.Path]; ok {
		pl.Media[in.Path] = Media{Kind: props.Kind, Props: props, Route: route}
	}

	return nil
}

func (pl *Plan) planBitmap(p *pak.Pak, in pak.Input) error {
	props, ok := p.MediaProps[in.Path]
	if !ok {
		return missingProps(in.Path)
	}

	src := NormalizeCodec(props.Codec)
	if src == "" {
		src = NormalizeCodec(in.Path.Ext())
	}

	codecs := append([]string(nil), BitmapCodecs...)
	if !contains(codecs, src) {
		codecs = append(codecs, src)
	}

	media := Media{Kind: pak.MediaBitmap, Props: props}

	for _, codec := range codecs {
		for _, width := range BitmapWidths {
			set := VariantSet{Codec: codec, MaxWidth: width}
			for _, density := range BitmapDensities {
				kind, ok := bitmapVariant(codec, src, width, density, props.Width)
				if !ok {
					continue
				}
				route, err := pl.addDerivation(in, kind)
				if err != nil {
					return err
				}
				set.Variants = append(set.Variants, DensityRoute{Density: density, Route: route})
			}
			if len(set.Variants) > 0 {
				media.VariantSets = append(media.VariantSets, set)
			}
		}
	}

	route, err := pl.addDerivation(in, Identity())
	if err != nil {
		return err
	}
	media.Route = route
	pl.AssetRoutes[in.Path] = route
	pl.Media[in.Path] = media

	return nil
}

// bitmapVariant decides the kind for one (codec, css width, density) cell.
// It never upscales: a cell needing more pixels than the source has is
// skipped. A cell that neither resizes nor recodes is the Identity.
func bitmapVariant(codec, src string, width, density, intrinsic uint32) (Kind, bool) {
	var needed uint32
	if width == 0 {
		if density != 1 {
			return Kind{}, false
		}
	} else {
		needed = width * density
		if needed > intrinsic {
			return Kind{}, false
		}
		if needed == intrinsic {
			needed = 0
		}
	}

	if codec == src && needed == 0 {
		return Identity(), true
	}

	return Bitmap(codec, needed), true
}

func (pl *Plan) planVideo(p *pak.Pak, in pak.Input) error {
	props, ok := p.MediaProps[in.Path]
	if !ok {
		return missingProps(in.Path)
	}

	media := Media{Kind: pak.MediaVideo, Props: props}

	for _, target := range VideoTargets {
		kind := Video(target.Container, target.VideoCodec, target.AudioCodec)
		if props.Container == target.Container && props.Codec == target.VideoCodec && props.AudioCodec == target.AudioCodec {
			kind = Identity()
		}
		route, err := pl.addDerivation(in, kind)
		if err != nil {
			return err
		}
		media.Sources = append(media.Sources, VideoSource{
			ContentType: pak.ContentTypeForExt(target.Container),
			Route:       route,
		})
	}

	options := make([]RedirectOption, 0, len(ThumbnailCodecs))
	routes := make([]string, 0, len(ThumbnailCodecs))
	for _, codec := range ThumbnailCodecs {
		route, err := pl.addDerivation(in, VideoThumbnail(codec))
		if err != nil {
			return err
		}
		options = append(options, RedirectOption{ContentType: pak.ContentTypeForExt(codec), Route: route})
		routes = append(routes, route.String())
	}
	thumbKey := pak.HashBytes([]byte(strings.Join(routes, "\n"))).String()
	thumb := BustedRoute(in.Path, thumbKey, "thumb")
	if err := pl.add(thumb, RedirectAsset(options...)); err != nil {
		return err
	}
	media.Thumbnail = thumb

	media.Route = media.Sources[0].Route
	pl.AssetRoutes[in.Path] = media.Route
	pl.Media[in.Path] = media

	return nil
}

func (pl *Plan) planFonts(p *pak.Pak) error {
	if len(p.Fonts.Fonts) == 0 {
		return nil
	}

	var css strings.Builder
	for _, f := range p.Fonts.Fonts {
		route, ok := pl.AssetRoutes[f.Path]
		if !ok {
			continue
		}
		family, weight, style := pak.FontFace(f.Path)
		if f.Family != "" {
			family, weight, style = f.Family, f.Weight, f.Style
		}
		fmt.Fprintf(&css, "@font-face{font-family:%q;font-style:%s;font-weight:%d;font-display:swap;src:url(%s) format(%q);}\n",
			family, style, weight, route, fontFormat(f.Path.Ext()))
	}
	if css.Len() == 0 {
		return nil
	}

	return pl.add(FontsRoute, InlineAsset([]byte(css.String()), pak.ContentTypeForExt("css")))
}

func (pl *Plan) addDerivation(in pak.Input, kind Kind) (pak.Route, error) {
	key := Key(in.Hash, kind)
	route := BustedRoute(in.Path, key, kind.OutputExt(in.Path))

	return route, pl.add(route, DerivationAsset(Derivation{Input: in.Path, Kind: kind}))
}

// add registers asset at route. Planning the same derivation twice is fine;
// two different assets claiming one route is a consistency error.
func (pl *Plan) add(route pak.Route, asset Asset) error {
	if existing, ok := pl.Assets[route]; ok {
		if existing.Kind == AssetDerivation && asset.Kind == AssetDerivation && existing.Derivation == asset.Derivation {
			return nil
		}
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "route claimed by two assets").WithPath(route.String())
	}
	pl.Assets[route] = asset

	return nil
}

func wellKnownAlias(p pak.InputPath) (pak.Route, bool) {
	dir, name := path.Split(p.String())
	m := wellKnownEntry.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}

	return pak.Route(dir + m[1] + "." + m[2]), true
}

func fontFormat(ext string) string {
	switch ext {
	case "ttf":
		return "truetype"
	case "otf":
		return "opentype"
	default:
		return ext
	}
}

func missingProps(p pak.InputPath) error {
	return errors.NewValidationError(errors.ErrCodeInvalidInput, "media input has no probed properties").WithPath(p.String())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
