// Package indexer assembles a Revision: the planned assets of a Pak plus
// every page rendered, routed and linked into tags, series and children.
//
// Rendering is the expensive part and the only one that is incremental. A
// page from the previous revision is carried over as is when its own hash
// and the hash of every dependency recorded when it was rendered are
// unchanged. A dependency that was not an input at render time is recorded
// with an empty hash, so its later appearance counts as a change. Linking is
// always recomputed since it is cheap and global.
//
// The dependency paths of every page are written back into the Pak, and with
// a PageCache configured rendered pages outlive the process: a page whose
// recorded deps still hash the same is loaded from the cache by RenderKey.
package indexer

import (
	"bytes"
	"context"
	"html/template"
	"path"
	"runtime"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/fahadfarid28/home-sub000/internal/derivation"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// DefaultLayout is rendered when the revision configures no layout.
const DefaultLayout pak.InputPath = "/_default/layout.html"

// FrontMatter is the optional YAML header of a page, between "---" lines.
type FrontMatter struct {
	Title  string    `yaml:"title"`
	Date   time.Time `yaml:"date"`
	Tags   []string  `yaml:"tags"`
	Series string    `yaml:"series"`
	Draft  bool      `yaml:"draft"`
}

// LoadedPage is a rendered page.
type LoadedPage struct {
	Path  pak.InputPath
	Route pak.Route
	Hash  pak.ContentHash
	// DepHashes records the hash of every dependency at render time, empty
	// for dependencies that were not inputs.
	DepHashes map[pak.InputPath]pak.ContentHash
	Meta      FrontMatter
	HTML      string
	PlainText string
	TOC       []Heading
	Links     []string
	// Body is the page rendered through the layout.
	Body []byte

	Parent   pak.InputPath
	Children []pak.InputPath
	// SeriesIndex is the 0-based position in Meta.Series, or -1.
	SeriesIndex int
}

// Deps returns the dependency paths, sorted.
func (lp *LoadedPage) Deps() []pak.InputPath {
	deps := make([]pak.InputPath, 0, len(lp.DepHashes))
	for p := range lp.DepHashes {
		deps = append(deps, p)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })

	return deps
}

// Tag groups the pages carrying one tag.
type Tag struct {
	Slug  string
	Name  string
	Pages []pak.InputPath
}

// Revision is the fully built, immutable view of a Pak.
type Revision struct {
	Pak          *pak.Pak
	Pages        map[pak.InputPath]*LoadedPage
	PageRoutes   map[pak.Route]pak.InputPath
	Assets       map[pak.Route]derivation.Asset
	AssetRoutes  map[pak.InputPath]pak.Route
	Tags         map[string]*Tag
	Series       map[string][]pak.InputPath
	Media        map[pak.InputPath]derivation.Media
	PathMappings pak.PathMappings
	Search       SearchIndex
	// Rendered and Reused count pages by how they were obtained. Reused
	// includes pages loaded from the PageCache.
	Rendered int
	Reused   int
	// DepsUpdated is set when Index wrote new page deps into the Pak.
	DepsUpdated bool
}

// Options tunes an Indexer.
type Options struct {
	// Concurrency bounds parallel page renders; zero means NumCPU.
	Concurrency int
	// IncludeDrafts keeps draft pages in tags, series and children.
	IncludeDrafts bool
	// Cache, when set, keeps rendered pages across processes.
	Cache PageCache
}

// Indexer builds revisions.
type Indexer struct {
	logger    logging.Logger
	markup    MarkupProcessor
	templates TemplateRenderer
	search    func() SearchIndexer
	opts      Options
}

// New creates an Indexer. newSearch may be nil to skip search indexing.
func New(logger logging.Logger, markup MarkupProcessor, templates TemplateRenderer, newSearch func() SearchIndexer, opts Options) *Indexer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}

	return &Indexer{
		logger:    logger.WithComponent("indexer"),
		markup:    markup,
		templates: templates,
		search:    newSearch,
		opts:      opts,
	}
}

// Index builds the revision of p. prev, when not nil, is the previous
// revision; its unchanged pages are reused.
func (ix *Indexer) Index(ctx context.Context, p *pak.Pak, mappings pak.PathMappings, prev *Revision) (*Revision, error) {
	op := logging.StartOperation(ix.logger, "index", "revision", p.ID, "pages", len(p.Pages))

	plan, err := derivation.Build(p)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, errors.Propagate(err, "planning derivations")
	}

	rev := &Revision{
		Pak:          p,
		Pages:        make(map[pak.InputPath]*LoadedPage, len(p.Pages)),
		PageRoutes:   make(map[pak.Route]pak.InputPath, len(p.Pages)),
		Assets:       plan.Assets,
		AssetRoutes:  plan.AssetRoutes,
		Tags:         make(map[string]*Tag),
		Series:       make(map[string][]pak.InputPath),
		Media:        plan.Media,
		PathMappings: mappings,
	}

	pageRoutes := make(map[pak.InputPath]pak.Route, len(p.Pages))
	for ip := range p.Pages {
		route := PageRoute(ip)
		if other, ok := rev.PageRoutes[route]; ok {
			err := errors.NewValidationError(errors.ErrCodeInvalidInput, "two pages share a route").
				WithPath(ip.String()).
				WithContext("other", other.String()).
				WithContext("route", route.String())
			op.EndWithError(ctx, err)
			return nil, err
		}
		rev.PageRoutes[route] = ip
		pageRoutes[ip] = route
	}

	toRender := make([]pak.InputPath, 0, len(p.Pages))
	for _, ip := range p.SortedPagePaths() {
		if old, ok := reusable(prev, p, ip); ok {
			lp := *old
			rev.Pages[ip] = &lp
			rev.Reused++
			continue
		}
		if lp, ok := ix.cached(ctx, p, ip); ok {
			rev.Pages[ip] = lp
			rev.Reused++
			continue
		}
		toRender = append(toRender, ip)
	}

	rendered := make([]*LoadedPage, len(toRender))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for i, ip := range toRender {
		g.Go(func() error {
			lp, err := ix.renderPage(gctx, p, ip, plan, pageRoutes, mappings)
			if err != nil {
				return errors.Propagate(err, "rendering "+ip.String())
			}
			rendered[i] = lp
			ix.store(gctx, p, lp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	for _, lp := range rendered {
		rev.Pages[lp.Path] = lp
	}
	rev.Rendered = len(rendered)
	rev.DepsUpdated = recordDeps(p, rev.Pages)

	rev.link(ix.opts.IncludeDrafts)

	if ix.search != nil {
		idx := ix.search()
		for _, ip := range p.SortedPagePaths() {
			if err := idx.Insert(ip, rev.Pages[ip]); err != nil {
				op.EndWithError(ctx, err)
				return nil, errors.Propagate(err, "indexing "+ip.String())
			}
		}
		if rev.Search, err = idx.Commit(); err != nil {
			op.EndWithError(ctx, err)
			return nil, errors.Propagate(err, "committing search index")
		}
	}

	op.End(ctx, "rendered", rev.Rendered, "reused", rev.Reused, "assets", len(rev.Assets), "tags", len(rev.Tags))

	return rev, nil
}

// reusable returns prev's copy of a page when nothing it was rendered from
// has changed.
func reusable(prev *Revision, p *pak.Pak, ip pak.InputPath) (*LoadedPage, bool) {
	if prev == nil {
		return nil, false
	}
	old, ok := prev.Pages[ip]
	if !ok || old.Hash != p.Pages[ip].Hash {
		return nil, false
	}
	for dep, hash := range old.DepHashes {
		if depHash(p, dep) != hash {
			return nil, false
		}
	}

	return old, true
}

// depHash is the current hash of dep, empty when dep is not an input.
func depHash(p *pak.Pak, dep pak.InputPath) pak.ContentHash {
	if in, ok := p.Inputs[dep]; ok {
		return in.Hash
	}

	return ""
}

// RenderKey identifies the rendering of page ip given its dependency paths:
// it changes whenever the page or any dependency hash does, including a
// dependency appearing or disappearing.
func RenderKey(p *pak.Pak, ip pak.InputPath, deps []pak.InputPath) string {
	sorted := append([]pak.InputPath(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var b strings.Builder
	b.WriteString("page\x00")
	b.WriteString(derivation.PipelineVersion)
	b.WriteByte(0)
	b.WriteString(ip.String())
	b.WriteByte(0)
	b.WriteString(p.Pages[ip].Hash.String())
	for _, d := range sorted {
		b.WriteByte(0)
		b.WriteString(d.String())
		b.WriteByte('=')
		b.WriteString(depHash(p, d).String())
	}

	return pak.HashBytes([]byte(b.String())).String()
}

// cached loads page ip from the PageCache using the deps recorded in the
// Pak. Pages that were never rendered have no deps and always miss.
func (ix *Indexer) cached(ctx context.Context, p *pak.Pak, ip pak.InputPath) (*LoadedPage, bool) {
	page := p.Pages[ip]
	if ix.opts.Cache == nil || len(page.Deps) == 0 {
		return nil, false
	}
	lp, ok, err := ix.opts.Cache.Get(ctx, RenderKey(p, ip, page.Deps))
	if err != nil {
		ix.logger.Warn(ctx, err, "reading rendered page from cache", "page", ip)
		return nil, false
	}
	if !ok || lp.Hash != page.Hash {
		return nil, false
	}
	lp.Path = ip

	return lp, true
}

// store saves a freshly rendered page. Failures only cost a re-render.
func (ix *Indexer) store(ctx context.Context, p *pak.Pak, lp *LoadedPage) {
	if ix.opts.Cache == nil {
		return
	}
	if err := ix.opts.Cache.Put(ctx, RenderKey(p, lp.Path, lp.Deps()), lp); err != nil {
		ix.logger.Warn(ctx, err, "caching rendered page", "page", lp.Path)
	}
}

// recordDeps writes the dependency paths of every loaded page into p and
// reports whether any changed.
func recordDeps(p *pak.Pak, pages map[pak.InputPath]*LoadedPage) bool {
	changed := false
	for ip, lp := range pages {
		deps := lp.Deps()
		page := p.Pages[ip]
		if slices.Equal(page.Deps, deps) {
			continue
		}
		page.Deps = deps
		p.Pages[ip] = page
		changed = true
	}

	return changed
}

func (ix *Indexer) renderPage(ctx context.Context, p *pak.Pak, ip pak.InputPath, plan *derivation.Plan, pageRoutes map[pak.InputPath]pak.Route, mappings pak.PathMappings) (*LoadedPage, error) {
	page := p.Pages[ip]
	meta, body, err := SplitFrontMatter(page.Markup)
	if err != nil {
		return nil, errors.Propagate(err, "front matter")
	}

	mctx := &MarkupContext{
		Page:        ip,
		Inputs:      p.Inputs,
		AssetRoutes: plan.AssetRoutes,
		PageRoutes:  pageRoutes,
		Templates:   p.Templates,
		Shortcode: func(ctx context.Context, tmpl pak.InputPath, attrs map[string]string) (string, error) {
			out, err := ix.templates.Render(ctx, p.Templates, tmpl, attrs)
			return string(out), err
		},
	}
	res, err := ix.markup.Process(ctx, ip, body, mctx)
	if err != nil {
		return nil, err
	}

	layout := DefaultLayout
	if p.Config.Layout != "" {
		layout = pak.InputPath(p.Config.Layout)
	}

	// The layout and every mapping-root config are dependencies whether or
	// not they exist yet.
	deps := make(map[pak.InputPath]pak.ContentHash, len(res.Deps)+1+len(mappings))
	for _, d := range res.Deps {
		deps[d] = depHash(p, d)
	}
	deps[layout] = depHash(p, layout)
	for _, c := range mappings.ConfigPaths() {
		deps[c] = depHash(p, c)
	}
	if !p.Config.Source.IsEmpty() {
		deps[p.Config.Source] = depHash(p, p.Config.Source)
	}

	lp := &LoadedPage{
		Path:        ip,
		Route:       pageRoutes[ip],
		Hash:        page.Hash,
		DepHashes:   deps,
		Meta:        meta,
		HTML:        res.HTML,
		PlainText:   res.PlainText,
		TOC:         res.TOC,
		Links:       res.Links,
		SeriesIndex: -1,
	}
	if lp.Meta.Title == "" && len(res.TOC) > 0 {
		lp.Meta.Title = res.TOC[0].Text
	}

	out, err := ix.templates.Render(ctx, p.Templates, layout, map[string]interface{}{
		"Title":   lp.Meta.Title,
		"Meta":    lp.Meta,
		"Content": template.HTML(res.HTML),
		"TOC":     res.TOC,
		"Route":   lp.Route,
		"Site":    p.Config,
	})
	if err != nil {
		return nil, err
	}
	lp.Body = out

	return lp, nil
}

// link fills in parents, children, tags and series.
func (rev *Revision) link(includeDrafts bool) {
	title := cases.Title(language.English)
	paths := rev.Pak.SortedPagePaths()

	for _, ip := range paths {
		lp := rev.Pages[ip]
		lp.Parent = ""
		lp.Children = nil
		lp.SeriesIndex = -1
	}

	for _, ip := range paths {
		lp := rev.Pages[ip]
		if lp.Meta.Draft && !includeDrafts {
			continue
		}

		if parent, ok := rev.PageRoutes[parentRoute(lp.Route)]; ok && parent != ip {
			lp.Parent = parent
			rev.Pages[parent].Children = append(rev.Pages[parent].Children, ip)
		}

		for _, name := range lp.Meta.Tags {
			slug := tagSlug(name)
			if slug == "" {
				continue
			}
			tag, ok := rev.Tags[slug]
			if !ok {
				tag = &Tag{Slug: slug, Name: title.String(strings.TrimSpace(name))}
				rev.Tags[slug] = tag
			}
			tag.Pages = append(tag.Pages, ip)
		}

		if lp.Meta.Series != "" {
			rev.Series[lp.Meta.Series] = append(rev.Series[lp.Meta.Series], ip)
		}
	}

	for _, members := range rev.Series {
		sort.SliceStable(members, func(i, j int) bool {
			a, b := rev.Pages[members[i]].Meta.Date, rev.Pages[members[j]].Meta.Date
			if !a.Equal(b) {
				return a.Before(b)
			}
			return members[i] < members[j]
		})
		for i, m := range members {
			rev.Pages[m].SeriesIndex = i
		}
	}
}

// SplitFrontMatter separates a leading "---" YAML block from the body.
func SplitFrontMatter(markup string) (FrontMatter, string, error) {
	var fm FrontMatter

	rest, ok := strings.CutPrefix(markup, "---\n")
	if !ok {
		rest, ok = strings.CutPrefix(markup, "---\r\n")
	}
	if !ok {
		return fm, markup, nil
	}

	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, markup, errors.NewValidationError(errors.ErrCodeInvalidInput, "unterminated front matter")
	}
	header, body := rest[:end], rest[end+len("\n---"):]
	body = strings.TrimLeft(strings.TrimPrefix(body, "\r"), "\n")

	if strings.TrimSpace(header) != "" {
		dec := yaml.NewDecoder(bytes.NewReader([]byte(header)))
		dec.KnownFields(true)
		if err := dec.Decode(&fm); err != nil {
			return fm, markup, errors.NewValidationError(errors.ErrCodeInvalidInput, "invalid front matter: "+err.Error())
		}
	}

	return fm, body, nil
}

// PageRoute maps a page input to its route: the first path segment (the
// mapping root) and the extension are dropped, and index pages stand for
// their directory.
func PageRoute(p pak.InputPath) pak.Route {
	s := strings.TrimPrefix(p.String(), "/")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(s, path.Ext(s))
	if s == "index" {
		s = ""
	}
	s = strings.TrimSuffix(s, "/index")

	return pak.Route("/" + s)
}

func parentRoute(r pak.Route) pak.Route {
	if r == "/" {
		return ""
	}

	return pak.Route(path.Dir(r.String()))
}

func tagSlug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}
