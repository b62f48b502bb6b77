package transcode

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// CleanupSVG minifies an SVG document and gives its root element a viewBox
// when it only declares width and height. Comments, processing
// instructions, doctypes and whitespace-only text are dropped.
func CleanupSVG(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var out bytes.Buffer
	w := &svgWriter{out: &out}
	depth := 0

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapValidation(err, errors.ErrCodeInvalidInput, "malformed SVG")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 && t.Name.Local == "svg" {
				t.Attr = withViewBox(t.Attr)
			}
			depth++
			w.start(t)
		case xml.EndElement:
			depth--
			w.end(t)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) == 0 {
				continue
			}
			w.text(t)
		}
	}
	w.flush()

	if out.Len() == 0 {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "SVG has no elements")
	}

	return out.Bytes(), nil
}

// svgWriter serializes raw tokens, keeping namespace prefixes as written
// and collapsing empty elements.
type svgWriter struct {
	out     *bytes.Buffer
	pending bool
}

func (w *svgWriter) flush() {
	if w.pending {
		w.out.WriteByte('>')
		w.pending = false
	}
}

func (w *svgWriter) start(t xml.StartElement) {
	w.flush()
	w.out.WriteByte('<')
	w.out.WriteString(qualified(t.Name))
	for _, a := range t.Attr {
		w.out.WriteByte(' ')
		w.out.WriteString(qualified(a.Name))
		w.out.WriteString(`="`)
		_ = xml.EscapeText(w.out, []byte(a.Value))
		w.out.WriteByte('"')
	}
	w.pending = true
}

func (w *svgWriter) end(t xml.EndElement) {
	if w.pending {
		w.out.WriteString("/>")
		w.pending = false
		return
	}
	w.out.WriteString("</")
	w.out.WriteString(qualified(t.Name))
	w.out.WriteByte('>')
}

func (w *svgWriter) text(t xml.CharData) {
	w.flush()
	_ = xml.EscapeText(w.out, t)
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}

	return n.Space + ":" + n.Local
}

func withViewBox(attrs []xml.Attr) []xml.Attr {
	var width, height float64
	var okW, okH bool
	for _, a := range attrs {
		switch a.Name.Local {
		case "viewBox":
			return attrs
		case "width":
			width, okW = parseLength(a.Value)
		case "height":
			height, okH = parseLength(a.Value)
		}
	}
	if !okW || !okH {
		return attrs
	}

	viewBox := xml.Attr{
		Name:  xml.Name{Local: "viewBox"},
		Value: "0 0 " + formatLength(width) + " " + formatLength(height),
	}

	return append(attrs, viewBox)
}

// parseLength accepts unitless and px lengths.
func parseLength(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, false
	}

	return f, true
}

func formatLength(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// svgSize reads the intrinsic size of an SVG from its root element.
func svgSize(data []byte) (uint32, uint32, bool) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.RawToken()
		if err != nil {
			return 0, 0, false
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "svg" {
			return 0, 0, false
		}

		var w, h float64
		var okW, okH bool
		for _, a := range start.Attr {
			switch a.Name.Local {
			case "width":
				w, okW = parseLength(a.Value)
			case "height":
				h, okH = parseLength(a.Value)
			case "viewBox":
				if okW && okH {
					continue
				}
				fields := strings.Fields(strings.ReplaceAll(a.Value, ",", " "))
				if len(fields) == 4 {
					w, okW = parseLength(fields[2])
					h, okH = parseLength(fields[3])
				}
			}
		}
		if !okW || !okH {
			return 0, 0, false
		}

		return uint32(w + 0.5), uint32(h + 0.5), true
	}
}

// EmbedFonts inserts an @font-face stylesheet with the collection's fonts
// as data URLs right after the opening <svg> tag.
func EmbedFonts(svg []byte, fonts *pak.FontCollection) []byte {
	if fonts == nil || len(fonts.Fonts) == 0 {
		return svg
	}

	open := bytes.Index(svg, []byte("<svg"))
	if open < 0 {
		return svg
	}
	end := bytes.IndexByte(svg[open:], '>')
	if end < 0 {
		return svg
	}
	insertAt := open + end + 1
	if svg[insertAt-2] == '/' {
		return svg
	}

	var style strings.Builder
	style.WriteString("<style>")
	for _, f := range fonts.Fonts {
		if len(f.Data) == 0 {
			continue
		}
		family, weight, fontStyle := pak.FontFace(f.Path)
		if f.Family != "" {
			family, weight, fontStyle = f.Family, f.Weight, f.Style
		}
		fmt.Fprintf(&style, "@font-face{font-family:%q;font-weight:%d;font-style:%s;src:url(data:%s;base64,%s);}",
			family, weight, fontStyle, pak.ContentTypeOf(f.Path), base64.StdEncoding.EncodeToString(f.Data))
	}
	style.WriteString("</style>")

	out := make([]byte, 0, len(svg)+style.Len())
	out = append(out, svg[:insertAt]...)
	out = append(out, style.String()...)
	out = append(out, svg[insertAt:]...)

	return out
}
