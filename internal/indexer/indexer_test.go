package indexer_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/fragment"
	"github.com/fahadfarid28/home-sub000/internal/indexer"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/objectstore"
	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/renderer"
)

// countingMarkup records which pages were processed.
type countingMarkup struct {
	inner indexer.MarkupProcessor
	mu    sync.Mutex
	seen  []pak.InputPath
}

func (c *countingMarkup) Process(ctx context.Context, p pak.InputPath, markup string, mctx *indexer.MarkupContext) (*indexer.MarkupResult, error) {
	c.mu.Lock()
	c.seen = append(c.seen, p)
	c.mu.Unlock()
	return c.inner.Process(ctx, p, markup, mctx)
}

func (c *countingMarkup) take() []pak.InputPath {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := c.seen
	c.seen = nil
	return seen
}

// wordIndex is a minimal search index over plain text.
type wordIndex struct {
	words map[string][]pak.InputPath
}

func (w *wordIndex) Insert(p pak.InputPath, page *indexer.LoadedPage) error {
	for _, word := range strings.Fields(strings.ToLower(page.PlainText)) {
		w.words[word] = append(w.words[word], p)
	}
	return nil
}

func (w *wordIndex) Commit() (indexer.SearchIndex, error) { return w, nil }

func (w *wordIndex) Search(query string, limit int) []pak.InputPath {
	hits := w.words[strings.ToLower(query)]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func put(p *pak.Pak, path pak.InputPath, content string) {
	in := pak.Input{Path: path, Hash: pak.HashBytes([]byte(content)), Size: int64(len(content)), ContentType: pak.ContentTypeOf(path)}
	p.Inputs[path] = in
	switch pak.Classify(path) {
	case pak.ClassPage:
		p.Pages[path] = pak.Page{Hash: in.Hash, Path: path, Markup: content}
	case pak.ClassTemplate:
		p.Templates[path] = pak.Template{Hash: in.Hash, Path: path, Source: content}
	}
}

func site() *pak.Pak {
	p := pak.New("rev-1")
	p.Config = pak.RevisionConfig{Title: "Notes", Layout: "/templates/page.html"}
	put(p, "/templates/page.html", `<article>{{ .Content }}</article>`)
	put(p, "/templates/shortcodes/note.html", `<aside>{{ .body }}</aside>`)
	put(p, "/content/index.md", "<h1>Home</h1>")
	put(p, "/content/posts/index.md", "<h1>Posts</h1>")
	put(p, "/content/posts/first.md", `---
title: First
date: 2024-01-02T00:00:00Z
tags: [Go, "Distributed Systems"]
series: building
---
<p>Read the <a href="paper.pdf">paper</a>.</p>`)
	put(p, "/content/posts/second.md", `---
title: Second
date: 2024-01-01T00:00:00Z
tags: [go]
series: building
---
<shortcode name="note">hello</shortcode>`)
	put(p, "/content/posts/draft.md", "---\ntitle: Draft\ndraft: true\ntags: [go]\n---\n<p>wip</p>")
	put(p, "/content/posts/paper.pdf", "%PDF")
	return p
}

func newIndexer(markup indexer.MarkupProcessor, opts indexer.Options) *indexer.Indexer {
	return indexer.New(logging.NewNop(), markup, renderer.New(), func() indexer.SearchIndexer {
		return &wordIndex{words: make(map[string][]pak.InputPath)}
	}, opts)
}

func TestIndexBuildsRevision(t *testing.T) {
	p := site()
	rev, err := newIndexer(fragment.New(), indexer.Options{}).Index(context.Background(), p, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, rev.Rendered)
	assert.Equal(t, pak.InputPath("/content/posts/first.md"), rev.PageRoutes["/posts/first"])
	assert.Equal(t, pak.InputPath("/content/index.md"), rev.PageRoutes["/"])
	assert.Equal(t, pak.InputPath("/content/posts/index.md"), rev.PageRoutes["/posts"])

	first := rev.Pages["/content/posts/first.md"]
	assert.Equal(t, "First", first.Meta.Title)
	pdfRoute := rev.AssetRoutes["/content/posts/paper.pdf"]
	require.NotEmpty(t, pdfRoute)
	assert.Contains(t, first.HTML, `href="`+pdfRoute.String()+`"`)
	assert.Equal(t, []pak.InputPath{"/content/posts/paper.pdf", "/templates/page.html"}, first.Deps())
	assert.True(t, strings.HasPrefix(string(first.Body), "<article>"))

	second := rev.Pages["/content/posts/second.md"]
	assert.Contains(t, second.HTML, "<aside>hello</aside>")
	assert.Contains(t, second.Deps(), pak.InputPath("/templates/shortcodes/note.html"))

	assert.Equal(t, pak.InputPath("/content/posts/index.md"), first.Parent)
	assert.Equal(t, pak.InputPath("/content/index.md"), rev.Pages["/content/posts/index.md"].Parent)
	assert.Equal(t, []pak.InputPath{"/content/posts/first.md", "/content/posts/second.md"},
		rev.Pages["/content/posts/index.md"].Children)

	require.Contains(t, rev.Tags, "go")
	assert.Equal(t, "Go", rev.Tags["go"].Name)
	assert.Equal(t, []pak.InputPath{"/content/posts/first.md", "/content/posts/second.md"}, rev.Tags["go"].Pages)
	assert.Equal(t, "Distributed Systems", rev.Tags["distributed-systems"].Name)

	assert.Equal(t, []pak.InputPath{"/content/posts/second.md", "/content/posts/first.md"}, rev.Series["building"])
	assert.Equal(t, 1, first.SeriesIndex)
	assert.Equal(t, -1, rev.Pages["/content/posts/draft.md"].SeriesIndex)

	assert.Equal(t, []pak.InputPath{"/content/posts/draft.md"}, rev.Search.Search("wip", 10))
}

func TestIncrementalPageReuse(t *testing.T) {
	ctx := context.Background()
	markup := &countingMarkup{inner: fragment.New()}
	ix := newIndexer(markup, indexer.Options{})

	first, err := ix.Index(ctx, site(), nil, nil)
	require.NoError(t, err)
	markup.take()

	// Unchanged pak: everything is reused.
	again, err := ix.Index(ctx, site(), nil, first)
	require.NoError(t, err)
	assert.Empty(t, markup.take())
	assert.Equal(t, 5, again.Reused)
	assert.Equal(t, first.Pages["/content/posts/first.md"].HTML, again.Pages["/content/posts/first.md"].HTML)

	// A dependency changes: only the page embedding it is rendered.
	edited := site()
	put(edited, "/content/posts/paper.pdf", "%PDF v2")
	third, err := ix.Index(ctx, edited, nil, again)
	require.NoError(t, err)
	assert.Equal(t, []pak.InputPath{"/content/posts/first.md"}, markup.take())
	assert.Equal(t, 1, third.Rendered)
	assert.NotEqual(t, again.Pages["/content/posts/first.md"].HTML, third.Pages["/content/posts/first.md"].HTML)

	// The layout is a dependency of every page.
	relayout := site()
	put(relayout, "/templates/page.html", `<main>{{ .Content }}</main>`)
	_, err = ix.Index(ctx, relayout, nil, third)
	require.NoError(t, err)
	assert.Len(t, markup.take(), 5)

	// Linking of reused pages does not leak into the previous revision.
	assert.Equal(t, pak.InputPath("/content/posts/index.md"), first.Pages["/content/posts/first.md"].Parent)
}

func TestDependenciesAddedLaterInvalidateReuse(t *testing.T) {
	ctx := context.Background()
	mappings := pak.PathMappings{{InputPrefix: "/content", DiskPrefix: "/srv/content"}}
	ix := newIndexer(fragment.New(), indexer.Options{})

	before := pak.New("rev-1")
	put(before, "/content/a.md", `<p><a href="doc.pdf">doc</a></p>`)
	first, err := ix.Index(ctx, before, mappings, nil)
	require.NoError(t, err)
	page := first.Pages["/content/a.md"]
	assert.Contains(t, page.HTML, `href="doc.pdf"`)
	assert.Contains(t, page.Deps(), pak.InputPath("/content/doc.pdf"))
	assert.Contains(t, page.Deps(), pak.InputPath("/content/_config.yaml"))
	assert.Contains(t, page.Deps(), indexer.DefaultLayout)

	withDoc := before.Clone("rev-2")
	put(withDoc, "/content/doc.pdf", "%PDF")
	second, err := ix.Index(ctx, withDoc, mappings, first)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Rendered)
	assert.Equal(t, 0, second.Reused)
	docRoute := second.AssetRoutes["/content/doc.pdf"]
	require.NotEmpty(t, docRoute)
	assert.Contains(t, second.Pages["/content/a.md"].HTML, `href="`+docRoute.String()+`"`)

	withConfig := withDoc.Clone("rev-3")
	put(withConfig, "/content/_config.yaml", "title: Hello\n")
	withConfig.SetConfig(pak.RevisionConfig{Title: "Hello", Source: "/content/_config.yaml"})
	withConfig.ResolveConfig(mappings)
	third, err := ix.Index(ctx, withConfig, mappings, second)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Rendered)
	assert.Contains(t, string(third.Pages["/content/a.md"].Body), "<title>Hello</title>")

	// Removing it again is a change too.
	withoutConfig := withConfig.Clone("rev-4")
	withoutConfig.RemovePrefix("/content/_config.yaml")
	withoutConfig.ResolveConfig(mappings)
	fourth, err := ix.Index(ctx, withoutConfig, mappings, third)
	require.NoError(t, err)
	assert.Equal(t, 1, fourth.Rendered)
	assert.NotContains(t, string(fourth.Pages["/content/a.md"].Body), "Hello")
}

func TestPageDepsTravelWithThePak(t *testing.T) {
	ctx := context.Background()
	cache := indexer.NewStoreCache(objectstore.NewMemory("pages"))
	markup := &countingMarkup{inner: fragment.New()}

	p := site()
	first, err := newIndexer(markup, indexer.Options{Cache: cache}).Index(ctx, p, nil, nil)
	require.NoError(t, err)
	assert.True(t, first.DepsUpdated)
	assert.Equal(t, []pak.InputPath{"/content/posts/paper.pdf", "/templates/page.html"}, p.Pages["/content/posts/first.md"].Deps)
	assert.Len(t, markup.take(), 5)

	// A later process starts from the stored Pak and no previous revision.
	data, err := pak.Marshal(p)
	require.NoError(t, err)
	loaded, err := pak.Unmarshal(data)
	require.NoError(t, err)

	second, err := newIndexer(markup, indexer.Options{Cache: cache}).Index(ctx, loaded, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, markup.take())
	assert.Equal(t, 5, second.Reused)
	assert.False(t, second.DepsUpdated)
	assert.Equal(t, first.Pages["/content/posts/first.md"].Body, second.Pages["/content/posts/first.md"].Body)
	assert.Equal(t, pak.InputPath("/content/posts/index.md"), second.Pages["/content/posts/first.md"].Parent)

	// Only the page embedding a changed dependency misses the cache.
	edited := loaded.Clone("rev-2")
	put(edited, "/content/posts/paper.pdf", "%PDF v2")
	third, err := newIndexer(markup, indexer.Options{Cache: cache}).Index(ctx, edited, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []pak.InputPath{"/content/posts/first.md"}, markup.take())
	assert.Equal(t, 4, third.Reused)
}

func TestDraftsCanBeIncluded(t *testing.T) {
	rev, err := newIndexer(fragment.New(), indexer.Options{IncludeDrafts: true}).Index(context.Background(), site(), nil, nil)
	require.NoError(t, err)
	assert.Contains(t, rev.Tags["go"].Pages, pak.InputPath("/content/posts/draft.md"))
}

func TestIndexErrors(t *testing.T) {
	p := site()
	put(p, "/content/posts/broken.md", `<shortcode name="missing"></shortcode>`)
	_, err := newIndexer(fragment.New(), indexer.Options{}).Index(context.Background(), p, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "/content/posts/broken.md")

	clash := site()
	put(clash, "/content/posts.md", "<p>clash</p>")
	_, err = newIndexer(fragment.New(), indexer.Options{}).Index(context.Background(), clash, nil, nil)
	assert.True(t, errors.IsValidation(err))

	photo := site()
	put(photo, "/content/posts/photo.png", "png")
	_, err = newIndexer(fragment.New(), indexer.Options{}).Index(context.Background(), photo, nil, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestSplitFrontMatter(t *testing.T) {
	fm, body, err := indexer.SplitFrontMatter("---\ntitle: Hi\ndate: 2024-03-04T00:00:00Z\n---\n\n<p>x</p>")
	require.NoError(t, err)
	assert.Equal(t, "Hi", fm.Title)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), fm.Date)
	assert.Equal(t, "<p>x</p>", body)

	_, body, err = indexer.SplitFrontMatter("<p>no header</p>")
	require.NoError(t, err)
	assert.Equal(t, "<p>no header</p>", body)

	_, _, err = indexer.SplitFrontMatter("---\ntitle: Hi\n")
	assert.True(t, errors.IsValidation(err))

	_, _, err = indexer.SplitFrontMatter("---\nunknown_key: 1\n---\n")
	assert.True(t, errors.IsValidation(err))
}

func TestPageRoute(t *testing.T) {
	for in, want := range map[pak.InputPath]pak.Route{
		"/content/index.md":         "/",
		"/content/about.md":         "/about",
		"/content/posts/index.md":   "/posts",
		"/content/posts/a/index.md": "/posts/a",
		"/content/posts/hello.md":   "/posts/hello",
	} {
		assert.Equal(t, want, indexer.PageRoute(in), in)
	}
}
