// Package fragment is the default markup processor: page bodies are HTML
// fragments. It assigns heading ids, builds the table of contents, resolves
// media and link references against the revision's inputs, and expands
// <shortcode name="..."> elements through the revision's templates.
package fragment

import (
	"context"
	"path"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/indexer"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// ShortcodeDir is where shortcode templates live.
const ShortcodeDir = "/templates/shortcodes"

var _ indexer.MarkupProcessor = (*Processor)(nil)

// refAttrs lists, per element, the attribute naming another input.
var refAttrs = map[atom.Atom]string{
	atom.Img:    "src",
	atom.Video:  "src",
	atom.Audio:  "src",
	atom.Source: "src",
	atom.A:      "href",
	atom.Link:   "href",
	atom.Script: "src",
	atom.Object: "data",
}

// Processor implements indexer.MarkupProcessor.
type Processor struct {
	// MaxTOCLevel is the deepest heading listed in the table of contents.
	MaxTOCLevel int
}

// New returns a Processor listing h1 to h3.
func New() *Processor {
	return &Processor{MaxTOCLevel: 3}
}

// pageState is the per-call walk state.
type pageState struct {
	ctx   context.Context
	page  pak.InputPath
	mctx  *indexer.MarkupContext
	res   *indexer.MarkupResult
	deps  map[pak.InputPath]bool
	ids   map[string]int
	text  strings.Builder
	depth int
}

// Process implements indexer.MarkupProcessor.
func (p *Processor) Process(ctx context.Context, page pak.InputPath, markup string, mctx *indexer.MarkupContext) (*indexer.MarkupResult, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeRenderFailed, "parsing markup: "+err.Error()).WithPath(page.String())
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	st := &pageState{
		ctx:  ctx,
		page: page,
		mctx: mctx,
		res:  &indexer.MarkupResult{},
		deps: make(map[pak.InputPath]bool),
		ids:  make(map[string]int),
	}
	if st.mctx == nil {
		st.mctx = &indexer.MarkupContext{}
	}

	if err := p.walk(st, body); err != nil {
		return nil, err
	}

	var out strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&out, c); err != nil {
			return nil, errors.NewInternalError(errors.ErrCodeRenderFailed, "rendering markup", err)
		}
	}
	st.res.HTML = out.String()
	st.res.PlainText = strings.Join(strings.Fields(st.text.String()), " ")

	return st.res, nil
}

func (p *Processor) walk(st *pageState, n *html.Node) error {
	switch n.Type {
	case html.TextNode:
		st.text.WriteString(n.Data)
		st.text.WriteByte(' ')
		return nil
	case html.ElementNode:
		if n.Data == "shortcode" {
			return p.shortcode(st, n)
		}
		if level := headingLevel(n.DataAtom); level > 0 {
			p.heading(st, n, level)
		}
		if key, ok := refAttrs[n.DataAtom]; ok {
			st.reference(n, key)
		}
	}

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if err := p.walk(st, c); err != nil {
			return err
		}
		c = next
	}

	return nil
}

func (p *Processor) heading(st *pageState, n *html.Node, level int) {
	text := strings.Join(strings.Fields(textOf(n)), " ")
	id := attr(n, "id")
	if id == "" {
		id = st.uniqueID(Slug(text))
		setAttr(n, "id", id)
	}
	if level <= p.MaxTOCLevel {
		st.res.TOC = append(st.res.TOC, indexer.Heading{Level: level, ID: id, Text: text})
	}
}

// reference records and rewrites one src/href.
func (st *pageState) reference(n *html.Node, key string) {
	val := attr(n, key)
	if val == "" {
		return
	}
	if n.DataAtom == atom.A {
		defer func() { st.res.Links = append(st.res.Links, attr(n, key)) }()
	}
	if isExternal(val) {
		return
	}

	target, fragment := Resolve(st.page, val)
	if route, ok := st.mctx.PageRoutes[target]; ok {
		setAttr(n, key, route.String()+fragment)
		return
	}
	// A target that is not an input yet is still a dependency: once it
	// appears the reference must be rewritten.
	st.addDep(target)
	if route, ok := st.mctx.AssetRoutes[target]; ok {
		setAttr(n, key, route.String()+fragment)
	}
}

func (p *Processor) shortcode(st *pageState, n *html.Node) error {
	name := attr(n, "name")
	if name == "" || strings.ContainsAny(name, "/.") {
		return errors.NewValidationError(errors.ErrCodeRenderFailed, "shortcode needs a plain name").WithPath(st.page.String())
	}
	tmpl := pak.InputPath(path.Join(ShortcodeDir, name+".html"))
	if _, ok := st.mctx.Templates[tmpl]; !ok {
		return errors.NewValidationError(errors.ErrCodeRenderFailed, "unknown shortcode "+name).
			WithPath(st.page.String()).
			WithContext("template", tmpl.String())
	}
	st.addDep(tmpl)

	if st.mctx.Shortcode == nil {
		return nil
	}
	st.depth++
	defer func() { st.depth-- }()
	if st.depth > 8 {
		return errors.NewValidationError(errors.ErrCodeRenderFailed, "shortcodes nested too deeply").WithPath(st.page.String())
	}

	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	attrs["body"] = innerHTML(n)
	out, err := st.mctx.Shortcode(st.ctx, tmpl, attrs)
	if err != nil {
		return errors.Propagate(err, "rendering shortcode "+name)
	}

	repl, err := html.ParseFragment(strings.NewReader(out), n.Parent)
	if err != nil {
		return errors.NewValidationError(errors.ErrCodeRenderFailed, "parsing shortcode output: "+err.Error()).WithPath(tmpl.String())
	}
	for _, r := range repl {
		n.Parent.InsertBefore(r, n)
		if err := p.walk(st, r); err != nil {
			return err
		}
	}
	n.Parent.RemoveChild(n)

	return nil
}

func (st *pageState) addDep(p pak.InputPath) {
	if p == st.page || st.deps[p] {
		return
	}
	st.deps[p] = true
	st.res.Deps = append(st.res.Deps, p)
}

func (st *pageState) uniqueID(base string) string {
	if base == "" {
		base = "section"
	}
	n := st.ids[base]
	st.ids[base] = n + 1
	if n == 0 {
		return base
	}

	return base + "-" + strconv.Itoa(n)
}

// Resolve interprets ref relative to page and splits off any query or
// fragment suffix.
func Resolve(page pak.InputPath, ref string) (pak.InputPath, string) {
	suffix := ""
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref, suffix = ref[:i], ref[i:]
	}
	if ref == "" {
		return page, suffix
	}
	if !strings.HasPrefix(ref, "/") {
		ref = path.Join(path.Dir(page.String()), ref)
	}

	return pak.InputPath(path.Clean(ref)), suffix
}

// Slug lower-cases s and keeps letters and digits, joining words with '-'.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}

	return b.String()
}

func isExternal(ref string) bool {
	if strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "#") {
		return true
	}
	if i := strings.Index(ref, ":"); i > 0 && !strings.ContainsAny(ref[:i], "/?#") {
		return true
	}

	return false
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}

	return 0
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)

	return b.String()
}

func innerHTML(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}

	return b.String()
}
