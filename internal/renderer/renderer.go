// Package renderer is the default template renderer. Every template of a
// revision is parsed into one html/template set, named by its input path,
// so templates can include each other with {{ template "/templates/x.html" . }}.
package renderer

import (
	"bytes"
	"context"
	"html/template"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/indexer"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

var _ indexer.TemplateRenderer = (*TemplateRenderer)(nil)

// DefaultLayout is registered as indexer.DefaultLayout.
const DefaultLayout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{ with .Title }}{{ . }} · {{ end }}{{ .Site.Title }}</title>
<link rel="stylesheet" href="/fonts.css">
</head>
<body>
<main>{{ .Content }}</main>
</body>
</html>
`

// TemplateRenderer implements indexer.TemplateRenderer. Parsed sets are
// cached by the hashes of the templates they were built from.
type TemplateRenderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// New creates a TemplateRenderer.
func New() *TemplateRenderer {
	return &TemplateRenderer{cache: make(map[string]*template.Template)}
}

// Render executes the template called name with data.
func (r *TemplateRenderer) Render(ctx context.Context, templates map[pak.InputPath]pak.Template, name pak.InputPath, data interface{}) ([]byte, error) {
	if err := validateTemplateName(name); err != nil {
		return nil, err
	}

	set, err := r.compile(templates)
	if err != nil {
		return nil, err
	}
	t := set.Lookup(name.String())
	if t == nil {
		return nil, errors.NewNotFoundError(errors.ErrCodeRenderFailed, "template not found").WithPath(name.String())
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeRenderFailed, "executing template: "+err.Error()).WithPath(name.String())
	}

	return buf.Bytes(), nil
}

// compile parses every template, reusing an earlier parse of the same set.
func (r *TemplateRenderer) compile(templates map[pak.InputPath]pak.Template) (*template.Template, error) {
	paths := make([]pak.InputPath, 0, len(templates))
	for p := range templates {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	var key strings.Builder
	for _, p := range paths {
		key.WriteString(p.String())
		key.WriteByte(0)
		key.WriteString(templates[p].Hash.String())
		key.WriteByte(0)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.cache[key.String()]; ok {
		return set, nil
	}

	set := template.New("").Funcs(funcs)
	if _, err := set.New(indexer.DefaultLayout.String()).Parse(DefaultLayout); err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeRenderFailed, "parsing default layout", err)
	}
	for _, p := range paths {
		if _, err := set.New(p.String()).Parse(templates[p].Source); err != nil {
			return nil, errors.NewValidationError(errors.ErrCodeRenderFailed, "parsing template: "+err.Error()).WithPath(p.String())
		}
	}

	// Sets only ever grow with edits; keep the latest few.
	if len(r.cache) >= 4 {
		r.cache = make(map[string]*template.Template)
	}
	r.cache[key.String()] = set

	return set, nil
}

var funcs = template.FuncMap{
	"safeHTML": func(s string) template.HTML { return template.HTML(s) },
	"base":     path.Base,
	"join":     strings.Join,
	"lower":    strings.ToLower,
}

// validateTemplateName rejects names that are not clean absolute paths.
func validateTemplateName(name pak.InputPath) error {
	s := name.String()
	if s == "" || !strings.HasPrefix(s, "/") {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "template name must be an absolute input path").WithPath(s)
	}
	if path.Clean(s) != s || strings.Contains(s, "..") {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "template name is not clean").WithPath(s)
	}

	return nil
}
