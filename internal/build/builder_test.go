package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/mediaprops"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

type fakeProber struct {
	calls atomic.Int32
	fail  map[pak.InputPath]bool
	block chan struct{}
}

func (f *fakeProber) Probe(ctx context.Context, p pak.InputPath, data []byte) (pak.MediaProps, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.fail[p] {
		return pak.MediaProps{}, fmt.Errorf("cannot decode %s", p)
	}
	return pak.MediaProps{Kind: pak.Classify(p).MediaKind(), Width: 640, Height: 480, Density: 1, Codec: p.Ext()}, nil
}

type tenant struct {
	root     string
	mappings pak.PathMappings
}

func newTenant(t *testing.T) *tenant {
	t.Helper()
	root := t.TempDir()
	return &tenant{
		root: root,
		mappings: pak.PathMappings{
			{InputPrefix: "/content", DiskPrefix: pak.DiskPath(filepath.ToSlash(filepath.Join(root, "content")))},
			{InputPrefix: "/templates", DiskPrefix: pak.DiskPath(filepath.ToSlash(filepath.Join(root, "templates")))},
		},
	}
}

func (tn *tenant) write(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(tn.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newTestBuilder(prober *fakeProber, opts Options) *Builder {
	return NewBuilder(logging.NewNop(), nil, prober, mediaprops.NewEphemeral(), opts)
}

func TestBuildFromScratch(t *testing.T) {
	tn := newTenant(t)
	tn.write(t, "content/_config.yaml", "title: Notes\nbase_url: https://example.org\nlayout: /templates/page.html\n")
	tn.write(t, "content/posts/hello.md", "# Hello")
	tn.write(t, "content/posts/cover.png", "png")
	tn.write(t, "content/posts/draft.md.swp", "swap")
	tn.write(t, "content/fonts/Inter-Bold.woff2", "font")
	tn.write(t, "templates/page.html", "{{ .Body }}")

	prober := &fakeProber{}
	res, err := newTestBuilder(prober, Options{}).Build(context.Background(), FromScratch(tn.mappings))
	require.NoError(t, err)
	require.True(t, res.Changed)

	p := res.Pak
	assert.NotEmpty(t, p.ID)
	assert.ElementsMatch(t, []pak.InputPath{
		"/content/_config.yaml",
		"/content/posts/hello.md",
		"/content/posts/cover.png",
		"/content/fonts/Inter-Bold.woff2",
		"/templates/page.html",
	}, p.SortedInputPaths())

	assert.Equal(t, "# Hello", p.Pages["/content/posts/hello.md"].Markup)
	assert.Equal(t, pak.HashBytes([]byte("# Hello")), p.Pages["/content/posts/hello.md"].Hash)
	assert.Nil(t, p.Pages["/content/posts/hello.md"].Deps)
	assert.Equal(t, "{{ .Body }}", p.Templates["/templates/page.html"].Source)
	assert.Equal(t, uint32(640), p.MediaProps["/content/posts/cover.png"].Width)

	require.Len(t, p.Fonts.Fonts, 1)
	assert.Equal(t, 700, p.Fonts.Fonts[0].Weight)
	assert.Equal(t, []byte("font"), p.Fonts.Fonts[0].Data)

	assert.Equal(t, "Notes", p.Config.Title)
	assert.Equal(t, "/templates/page.html", p.Config.Layout)
	assert.Equal(t, pak.InputPath("/content/_config.yaml"), p.Config.Source)
}

func TestIdenticalMediaIsProbedOnce(t *testing.T) {
	tn := newTenant(t)
	tn.write(t, "content/a.png", "same bytes")
	tn.write(t, "content/b.png", "same bytes")

	prober := &fakeProber{}
	res, err := newTestBuilder(prober, Options{Concurrency: 1}).Build(context.Background(), FromScratch(tn.mappings))
	require.NoError(t, err)

	assert.Equal(t, int32(1), prober.calls.Load())
	assert.Len(t, res.Pak.MediaProps, 2)
}

func TestIncrementalBuild(t *testing.T) {
	tn := newTenant(t)
	tn.write(t, "content/a.md", "one")
	tn.write(t, "content/b.md", "two")
	tn.write(t, "content/old/c.md", "three")

	b := newTestBuilder(&fakeProber{}, Options{})
	first, err := b.Build(context.Background(), FromScratch(tn.mappings))
	require.NoError(t, err)

	tn.write(t, "content/a.md", "one, edited")
	tn.write(t, "content/new.md", "fresh")
	require.NoError(t, os.RemoveAll(filepath.Join(tn.root, "content", "old")))

	second, err := b.Build(context.Background(), Incremental(first.Pak, []pak.InputEvent{
		pak.Modified("/content/a.md"),
		pak.Created("/content/new.md"),
		pak.Removed("/content/old"),
	}, tn.mappings))
	require.NoError(t, err)

	assert.NotEqual(t, first.Pak.ID, second.Pak.ID)
	assert.Equal(t, "one, edited", second.Pak.Pages["/content/a.md"].Markup)
	assert.Contains(t, second.Pak.Pages, pak.InputPath("/content/new.md"))
	assert.NotContains(t, second.Pak.Inputs, pak.InputPath("/content/old/c.md"))
	assert.Equal(t, first.Pak.Inputs["/content/b.md"], second.Pak.Inputs["/content/b.md"])

	// The previous Pak is untouched.
	assert.Equal(t, "one", first.Pak.Pages["/content/a.md"].Markup)
	assert.Contains(t, first.Pak.Inputs, pak.InputPath("/content/old/c.md"))
}

func TestWakeWithoutChangesReturnsPrevious(t *testing.T) {
	tn := newTenant(t)
	tn.write(t, "content/a.md", "one")

	b := newTestBuilder(&fakeProber{}, Options{})
	first, err := b.Build(context.Background(), FromScratch(tn.mappings))
	require.NoError(t, err)

	again, err := b.Build(context.Background(), Wake(first.Pak, tn.mappings))
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Same(t, first.Pak, again.Pak)

	tn.write(t, "content/a.md", "one, edited")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(tn.root, "content", "a.md"), later, later))

	changed, err := b.Build(context.Background(), Wake(first.Pak, tn.mappings))
	require.NoError(t, err)
	assert.True(t, changed.Changed)
	assert.NotEqual(t, first.Pak.ID, changed.Pak.ID)
	assert.Equal(t, "one, edited", changed.Pak.Pages["/content/a.md"].Markup)
}

func TestPerFileErrorFailsBuild(t *testing.T) {
	tn := newTenant(t)
	tn.write(t, "content/ok.md", "fine")
	tn.write(t, "content/broken.png", "garbage")

	prober := &fakeProber{fail: map[pak.InputPath]bool{"/content/broken.png": true}}
	res, err := newTestBuilder(prober, Options{}).Build(context.Background(), FromScratch(tn.mappings))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "/content/broken.png")
}

func TestRevisionConfigComesFromMappingRoot(t *testing.T) {
	ctx := context.Background()
	tn := newTenant(t)
	tn.write(t, "content/_config.yaml", "title: Root\n")
	tn.write(t, "content/posts/_config.yaml", "title: Nested\n")
	tn.write(t, "content/a.md", "a")
	tn.write(t, "content/posts/b.md", "b")
	b := newTestBuilder(&fakeProber{}, Options{})

	for i := 0; i < 20; i++ {
		res, err := b.Build(ctx, FromScratch(tn.mappings))
		require.NoError(t, err)
		require.Equal(t, "Root", res.Pak.Config.Title)
		require.Equal(t, pak.InputPath("/content/_config.yaml"), res.Pak.Config.Source)
	}

	first, err := b.Build(ctx, FromScratch(tn.mappings))
	require.NoError(t, err)
	assert.Contains(t, first.Pak.Inputs, pak.InputPath("/content/posts/_config.yaml"))
	assert.NotContains(t, first.Pak.Configs, pak.InputPath("/content/posts/_config.yaml"))

	require.NoError(t, os.Remove(filepath.Join(tn.root, "content", "posts", "_config.yaml")))
	next, err := b.Build(ctx, Incremental(first.Pak, []pak.InputEvent{pak.Removed("/content/posts/_config.yaml")}, tn.mappings))
	require.NoError(t, err)
	assert.Equal(t, "Root", next.Pak.Config.Title)
}

func TestRevisionConfigFallsBackToNextMapping(t *testing.T) {
	ctx := context.Background()
	tn := newTenant(t)
	tn.write(t, "content/_config.yaml", "title: Content\n")
	tn.write(t, "templates/_config.yaml", "title: Templates\n")
	b := newTestBuilder(&fakeProber{}, Options{})

	first, err := b.Build(ctx, FromScratch(tn.mappings))
	require.NoError(t, err)
	assert.Equal(t, "Content", first.Pak.Config.Title)
	assert.Len(t, first.Pak.Configs, 2)

	require.NoError(t, os.Remove(filepath.Join(tn.root, "content", "_config.yaml")))
	next, err := b.Build(ctx, Incremental(first.Pak, []pak.InputEvent{pak.Removed("/content/_config.yaml")}, tn.mappings))
	require.NoError(t, err)
	assert.Equal(t, "Templates", next.Pak.Config.Title)
	assert.Equal(t, pak.InputPath("/templates/_config.yaml"), next.Pak.Config.Source)
	assert.Equal(t, "Content", first.Pak.Config.Title, "the previous revision is untouched")

	require.NoError(t, os.Remove(filepath.Join(tn.root, "templates", "_config.yaml")))
	last, err := b.Build(ctx, Incremental(next.Pak, []pak.InputEvent{pak.Removed("/templates/_config.yaml")}, tn.mappings))
	require.NoError(t, err)
	assert.Equal(t, pak.RevisionConfig{}, last.Pak.Config)
}

func TestInvalidRevisionConfigFailsBuild(t *testing.T) {
	tn := newTenant(t)
	tn.write(t, "content/_config.yaml", "title: [unterminated")

	_, err := newTestBuilder(&fakeProber{}, Options{}).Build(context.Background(), FromScratch(tn.mappings))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestDrainTimeoutDiscardsLateResults(t *testing.T) {
	tn := newTenant(t)
	tn.write(t, "content/a.md", "text")
	tn.write(t, "content/slow.png", "pixels")

	prober := &fakeProber{block: make(chan struct{})}
	var once sync.Once
	defer once.Do(func() { close(prober.block) })

	res, err := newTestBuilder(prober, Options{DrainTimeout: 50 * time.Millisecond}).
		Build(context.Background(), FromScratch(tn.mappings))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Dropped)
	assert.Contains(t, res.Pak.Inputs, pak.InputPath("/content/a.md"))
	assert.NotContains(t, res.Pak.Inputs, pak.InputPath("/content/slow.png"))

	once.Do(func() { close(prober.block) })
}

func TestUnmappedEventFailsBuild(t *testing.T) {
	tn := newTenant(t)
	prev := pak.New("rev-1")

	_, err := newTestBuilder(&fakeProber{}, Options{}).
		Build(context.Background(), Incremental(prev, []pak.InputEvent{pak.Created("/elsewhere/x.md")}, tn.mappings))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestNormalize(t *testing.T) {
	got := Normalize([]pak.InputEvent{
		pak.Created("/c/new.md"),
		pak.Modified("/c/a.md"),
		pak.NewMetadata("/c/b.md"),
		pak.Created("/c/new.md"),
		pak.Created("/c/gone.md"),
		pak.Removed("/c/gone.md"),
		pak.Removed("/c/dir"),
		pak.Created("/c/dir"),
	})

	assert.Equal(t, []pak.InputEvent{
		pak.Removed("/c/a.md"),
		pak.Removed("/c/b.md"),
		pak.Removed("/c/dir"),
		pak.Removed("/c/gone.md"),
		pak.Created("/c/new.md"),
		pak.Created("/c/a.md"),
		pak.Created("/c/b.md"),
		pak.Created("/c/dir"),
	}, got)
}
