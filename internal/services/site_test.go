package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/config"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/transcode"
)

// fakeMedia probes every media input as a 16x16 image and prefixes
// transcoded output with the kind tag.
type fakeMedia struct {
	mu         sync.Mutex
	probes     int
	transcodes int
}

func (f *fakeMedia) Probe(ctx context.Context, p pak.InputPath, data []byte) (pak.MediaProps, error) {
	f.mu.Lock()
	f.probes++
	f.mu.Unlock()
	return pak.MediaProps{Kind: pak.MediaDiagram, Width: 16, Height: 16, Density: 1, Codec: "svg"}, nil
}

func (f *fakeMedia) Transcode(ctx context.Context, req transcode.Request) ([]byte, error) {
	f.mu.Lock()
	f.transcodes++
	f.mu.Unlock()
	return append([]byte(string(req.Kind.Tag)+":"), req.Data...), nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestSite(t *testing.T) (*Site, string, *fakeMedia) {
	t.Helper()
	root := t.TempDir()
	content := filepath.Join(root, "content")
	writeFile(t, filepath.Join(content, "index.md"), "---\ntitle: Home\n---\n<p>See <img src=\"logo.svg\"></p>")
	writeFile(t, filepath.Join(content, "logo.svg"), `<svg xmlns="http://www.w3.org/2000/svg"></svg>`)
	writeFile(t, filepath.Join(content, "style.css"), "body{}")

	v := viper.New()
	v.Set("build.state_dir", filepath.Join(root, "state"))
	v.Set("tenant.path_mappings", []map[string]string{{"input": "/content", "disk": content}})
	cfg, err := config.Load(v)
	require.NoError(t, err)

	media := &fakeMedia{}
	site, err := NewSite(context.Background(), cfg, logging.NewNop(), WithMedia(media))
	require.NoError(t, err)
	t.Cleanup(func() { _ = site.Close() })

	return site, content, media
}

func TestBuildThenWake(t *testing.T) {
	ctx := context.Background()
	site, _, media := newTestSite(t)

	first, err := site.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	assert.True(t, first.Build.Changed)
	assert.Len(t, first.Revision.Pak.Inputs, 3)
	require.Contains(t, first.Revision.Pages, pak.InputPath("/content/index.md"))
	assert.Equal(t, "Home", first.Revision.Pages["/content/index.md"].Meta.Title)
	assert.Equal(t, 1, media.probes)

	latest, err := site.Revisions.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Revision.Pak.ID, latest)

	again, err := site.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	assert.False(t, again.Build.Changed)
	assert.Same(t, first.Revision, again.Revision)

	scratch, err := site.Build(ctx, BuildOptions{FromScratch: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.Revision.Pak.ID, scratch.Revision.Pak.ID)
	assert.Equal(t, 1, media.probes, "media props come from the cache")
}

func TestRebuildRendersOnlyChangedPages(t *testing.T) {
	ctx := context.Background()
	site, content, _ := newTestSite(t)
	writeFile(t, filepath.Join(content, "about.md"), "<h1>About</h1>")

	first, err := site.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Revision.Rendered)

	writeFile(t, filepath.Join(content, "about.md"), "<h1>About us</h1>")
	next, err := site.Rebuild(ctx, []pak.InputEvent{pak.Modified("/content/about.md")})
	require.NoError(t, err)

	assert.NotEqual(t, first.Revision.Pak.ID, next.Revision.Pak.ID)
	assert.Equal(t, 1, next.Revision.Rendered)
	assert.Equal(t, 1, next.Revision.Reused)
	assert.Equal(t, "About us", next.Revision.Pages["/content/about.md"].Meta.Title)
	assert.Same(t, next.Revision, site.Current())
}

func TestRestartReusesRenderedPages(t *testing.T) {
	ctx := context.Background()
	site, _, media := newTestSite(t)

	first, err := site.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Revision.Rendered)
	require.NoError(t, site.Close())

	reopened, err := NewSite(ctx, site.Config, logging.NewNop(), WithMedia(media))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	stored, err := reopened.Revisions.LoadLatest(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Pages["/content/index.md"].Deps)

	again, err := reopened.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	assert.False(t, again.Build.Changed)
	assert.Equal(t, 0, again.Revision.Rendered)
	assert.Equal(t, 1, again.Revision.Reused)
	assert.Equal(t, first.Revision.Pages["/content/index.md"].Body, again.Revision.Pages["/content/index.md"].Body)
}

func TestServeRoutes(t *testing.T) {
	ctx := context.Background()
	site, _, media := newTestSite(t)
	res, err := site.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	rev := res.Revision

	page, err := site.Serve(ctx, rev, "/", "")
	require.NoError(t, err)
	assert.Contains(t, page.ContentType, "text/html")
	svgRoute := rev.AssetRoutes["/content/logo.svg"]
	assert.Contains(t, string(page.Bytes), svgRoute.String())

	svg, err := site.Serve(ctx, rev, svgRoute, "")
	require.NoError(t, err)
	assert.Equal(t, `svg_cleanup:<svg xmlns="http://www.w3.org/2000/svg"></svg>`, string(svg.Bytes))
	assert.Equal(t, "image/svg+xml", svg.ContentType)

	// A second request is a cache hit.
	_, err = site.Serve(ctx, rev, svgRoute, "")
	require.NoError(t, err)
	assert.Equal(t, 1, media.transcodes)

	css, err := site.Serve(ctx, rev, rev.AssetRoutes["/content/style.css"], "")
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(css.Bytes))

	_, err = site.Serve(ctx, rev, "/nowhere", "")
	assert.True(t, errors.IsNotFound(err))
}

func TestPushUploadsOnlyMissingInputs(t *testing.T) {
	ctx := context.Background()
	site, _, _ := newTestSite(t)
	res, err := site.Build(ctx, BuildOptions{})
	require.NoError(t, err)

	pushed, err := site.Push(ctx, res.Build.Pak)
	require.NoError(t, err)
	assert.Equal(t, 3, pushed.Inputs)
	assert.Equal(t, 3, pushed.Uploaded)

	for _, in := range res.Build.Pak.Inputs {
		ok, err := site.Store.Exists(ctx, pak.InputObjectKey(in))
		require.NoError(t, err)
		assert.True(t, ok, in.Path)
	}

	again, err := site.Push(ctx, res.Build.Pak)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Uploaded)

	stored, err := site.Revisions.LoadPak(ctx, res.Build.Pak.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Build.Pak.SortedInputPaths(), stored.SortedInputPaths())
}

func TestPushRefusesChangedInput(t *testing.T) {
	ctx := context.Background()
	site, content, _ := newTestSite(t)
	res, err := site.Build(ctx, BuildOptions{})
	require.NoError(t, err)

	writeFile(t, filepath.Join(content, "style.css"), "body{color:red}")
	_, err = site.Push(ctx, res.Build.Pak)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestDiskInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")
	inputs := NewDiskInputs(pak.PathMappings{{InputPrefix: "/c", DiskPrefix: pak.DiskPath(dir)}})

	data, err := inputs.ReadInput(context.Background(), pak.Input{Path: "/c/a.txt", Hash: pak.HashBytes([]byte("hello"))})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = inputs.ReadInput(context.Background(), pak.Input{Path: "/c/gone.txt"})
	assert.True(t, errors.IsNotFound(err))

	_, err = inputs.ReadInput(context.Background(), pak.Input{Path: "/elsewhere/a.txt"})
	assert.Error(t, err)
}
