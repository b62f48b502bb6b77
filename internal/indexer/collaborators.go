package indexer

import (
	"context"

	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// Heading is one table of contents entry.
type Heading struct {
	Level int    `json:"level"`
	ID    string `json:"id"`
	Text  string `json:"text"`
}

// MarkupResult is what a MarkupProcessor extracts from a page body.
type MarkupResult struct {
	HTML      string
	PlainText string
	TOC       []Heading
	// Deps are the other inputs the output depends on: embedded media and
	// shortcode templates. Referenced paths that are not inputs yet are
	// included.
	Deps []pak.InputPath
	// Links are the outgoing hrefs, after rewriting.
	Links []string
}

// MarkupContext is handed to the processor for one page.
type MarkupContext struct {
	Page pak.InputPath
	// Inputs lists every input of the revision.
	Inputs map[pak.InputPath]pak.Input
	// AssetRoutes maps inputs to the route they are served at.
	AssetRoutes map[pak.InputPath]pak.Route
	// PageRoutes maps page inputs to their routes. Links to pages are
	// rewritten but are not dependencies.
	PageRoutes map[pak.InputPath]pak.Route
	Templates  map[pak.InputPath]pak.Template
	// Shortcode renders a shortcode template; nil leaves shortcodes in place.
	Shortcode func(ctx context.Context, template pak.InputPath, attrs map[string]string) (string, error)
}

// MarkupProcessor turns page markup into HTML.
type MarkupProcessor interface {
	Process(ctx context.Context, path pak.InputPath, markup string, mctx *MarkupContext) (*MarkupResult, error)
}

// TemplateRenderer renders a named template from the revision's templates.
type TemplateRenderer interface {
	Render(ctx context.Context, templates map[pak.InputPath]pak.Template, name pak.InputPath, data interface{}) ([]byte, error)
}

// SearchIndexer receives every loaded page, then produces a queryable index.
type SearchIndexer interface {
	Insert(path pak.InputPath, page *LoadedPage) error
	Commit() (SearchIndex, error)
}

// SearchIndex is a committed full-text index.
type SearchIndex interface {
	Search(query string, limit int) []pak.InputPath
}
