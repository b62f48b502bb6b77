package pak

import (
	"path"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Font is one embedded font file.
type Font struct {
	Path   InputPath   `msgpack:"path"`
	Hash   ContentHash `msgpack:"hash"`
	Family string      `msgpack:"family"`
	Weight int         `msgpack:"weight"`
	Style  string      `msgpack:"style"`
	Format string      `msgpack:"format"`
	Data   []byte      `msgpack:"data"`
}

// FontCollection is the set of fonts embedded in a Pak, kept sorted by path.
type FontCollection struct {
	Fonts []Font `msgpack:"fonts"`
}

// Put inserts or replaces the font at f.Path.
func (c *FontCollection) Put(f Font) {
	i := sort.Search(len(c.Fonts), func(i int) bool { return c.Fonts[i].Path >= f.Path })
	if i < len(c.Fonts) && c.Fonts[i].Path == f.Path {
		c.Fonts[i] = f
		return
	}
	c.Fonts = append(c.Fonts, Font{})
	copy(c.Fonts[i+1:], c.Fonts[i:])
	c.Fonts[i] = f
}

// Digest identifies the collection's contents. It changes whenever a font is
// added, removed or edited, and is empty for an empty collection.
func (c FontCollection) Digest() string {
	if len(c.Fonts) == 0 {
		return ""
	}
	h := murmur3.New128()
	for _, f := range c.Fonts {
		_, _ = h.Write([]byte(f.Path))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(f.Hash))
		_, _ = h.Write([]byte{0})
	}

	return hexSum(h)
}

func (c FontCollection) clone() FontCollection {
	if c.Fonts == nil {
		return FontCollection{}
	}
	out := make([]Font, len(c.Fonts))
	copy(out, c.Fonts)

	return FontCollection{Fonts: out}
}

func (c *FontCollection) removePrefix(prefix InputPath) {
	kept := c.Fonts[:0]
	for _, f := range c.Fonts {
		if !f.Path.HasPrefix(prefix) {
			kept = append(kept, f)
		}
	}
	c.Fonts = kept
}

// FontFace derives family, weight and style from a file name such as
// Inter-BoldItalic.woff2.
func FontFace(p InputPath) (family string, weight int, style string) {
	base := strings.TrimSuffix(path.Base(string(p)), path.Ext(string(p)))

	family, variant := base, ""
	if i := strings.LastIndexAny(base, "-_"); i > 0 {
		family, variant = base[:i], base[i+1:]
	}

	weight, style = 400, "normal"
	v := strings.ToLower(variant)
	if strings.HasSuffix(v, "italic") {
		style = "italic"
		v = strings.TrimSuffix(v, "italic")
	}
	if w, ok := fontWeights[v]; ok {
		weight = w
	} else if v != "" && v != "regular" && style == "normal" {
		// Not a recognised variant, so the suffix is part of the family name.
		family = base
	}

	return family, weight, style
}

var fontWeights = map[string]int{
	"thin":       100,
	"extralight": 200,
	"light":      300,
	"regular":    400,
	"":           400,
	"medium":     500,
	"semibold":   600,
	"bold":       700,
	"extrabold":  800,
	"black":      900,
}
