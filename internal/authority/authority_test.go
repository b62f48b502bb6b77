package authority

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/compute"
	"github.com/fahadfarid28/home-sub000/internal/derivation"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/monitoring"
	"github.com/fahadfarid28/home-sub000/internal/objectstore"
	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/revstore"
	"github.com/fahadfarid28/home-sub000/internal/transcode"
)

// upperTranscoder prefixes the kind tag; gate, when set, blocks each call.
type upperTranscoder struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	fonts int
}

func (u *upperTranscoder) Transcode(ctx context.Context, req transcode.Request) ([]byte, error) {
	u.mu.Lock()
	u.calls++
	if req.Fonts != nil {
		u.fonts = len(req.Fonts.Fonts)
	}
	u.mu.Unlock()
	if u.gate != nil {
		select {
		case <-u.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return append([]byte(string(req.Kind.Tag)+":"), req.Data...), nil
}

func (u *upperTranscoder) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type fixture struct {
	store *objectstore.Memory
	revs  *revstore.Store
	tc    *upperTranscoder
	a     *Authority
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	revs, err := revstore.Open(filepath.Join(t.TempDir(), "revisions.db"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = revs.Close() })

	f := &fixture{store: objectstore.NewMemory("durable"), revs: revs, tc: &upperTranscoder{}}
	f.a = New(logging.NewNop(), nil, f.store, revs, f.tc, opts)

	return f
}

func (f *fixture) seed(t *testing.T, path pak.InputPath, data []byte) pak.Input {
	t.Helper()
	in := pak.Input{Path: path, Hash: pak.HashBytes(data), Size: int64(len(data))}
	require.NoError(t, f.store.Put(context.Background(), pak.InputObjectKey(in), data))
	return in
}

func deriveReq(in pak.Input, kind derivation.Kind) compute.DeriveRequest {
	return compute.DeriveRequest{Env: "prod", Input: in, Derivation: derivation.Derivation{Input: in.Path, Kind: kind}}
}

func TestDeriveComputesAndStores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	in := f.seed(t, "/content/a.png", []byte("pixels"))
	req := deriveReq(in, derivation.Bitmap("webp", 800))

	resp, err := f.a.Derive(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, compute.StatusDone, resp.Status)
	assert.Equal(t, derivation.CacheKey("prod", in, req.Derivation.Kind), resp.DestKey)

	out, err := f.store.Get(ctx, resp.DestKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("bitmap:pixels"), out)

	again, err := f.a.Derive(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, compute.StatusDone, again.Status)
	assert.Equal(t, 1, f.tc.Calls())
	assert.Empty(t, f.a.InFlight())
}

func TestDeriveAdmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxJobs: 1})
	f.tc.gate = make(chan struct{})
	a := f.seed(t, "/content/a.png", []byte("a"))
	b := f.seed(t, "/content/b.png", []byte("b"))

	first := make(chan compute.DeriveResponse, 1)
	go func() {
		resp, err := f.a.Derive(ctx, deriveReq(a, derivation.Bitmap("webp", 0)))
		assert.NoError(t, err)
		first <- resp
	}()
	require.Eventually(t, func() bool { return len(f.a.InFlight()) == 1 }, time.Second, time.Millisecond)

	same, err := f.a.Derive(ctx, deriveReq(a, derivation.Bitmap("webp", 0)))
	require.NoError(t, err)
	assert.Equal(t, compute.StatusAlreadyInProgress, same.Status)

	other, err := f.a.Derive(ctx, deriveReq(b, derivation.Bitmap("webp", 0)))
	require.NoError(t, err)
	assert.Equal(t, compute.StatusTooManyRequests, other.Status)

	close(f.tc.gate)
	assert.Equal(t, compute.StatusDone, (<-first).Status)
	assert.Equal(t, 1, f.tc.Calls())
}

func TestJobOutlivesRequest(t *testing.T) {
	f := newFixture(t, Options{})
	f.tc.gate = make(chan struct{})
	in := f.seed(t, "/content/a.png", []byte("a"))
	req := deriveReq(in, derivation.VideoThumbnail("jpg"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.a.Derive(ctx, req)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(f.a.InFlight()) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.True(t, errors.IsTimeout(<-errCh))

	resp, err := f.a.Derive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, compute.StatusAlreadyInProgress, resp.Status)

	close(f.tc.gate)
	f.a.Wait()

	ok, err := f.store.Exists(context.Background(), derivation.CacheKey("prod", in, req.Derivation.Kind))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeriveVerifiesInputHash(t *testing.T) {
	f := newFixture(t, Options{})
	in := f.seed(t, "/content/a.png", []byte("a"))
	in.Hash = pak.HashBytes([]byte("something else"))
	require.NoError(t, f.store.Put(context.Background(), pak.InputObjectKey(in), []byte("a")))

	_, err := f.a.Derive(context.Background(), deriveReq(in, derivation.Bitmap("webp", 0)))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, f.tc.Calls())
}

func TestDrawioRenderGathersFonts(t *testing.T) {
	f := newFixture(t, Options{})
	diagram := f.seed(t, "/content/chart.drawio", []byte("<mxfile/>"))
	font := f.seed(t, "/content/fonts/Inter-Bold.woff2", []byte("font"))

	fonts := &pak.FontCollection{}
	fonts.Put(pak.Font{Path: font.Path, Hash: font.Hash, Family: "Inter", Weight: 700, Style: "normal", Format: "woff2", Data: []byte("font")})
	req := deriveReq(diagram, derivation.DrawioRender(fonts.Digest()))
	req.Fonts = []pak.Input{font}

	resp, err := f.a.Derive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, compute.StatusDone, resp.Status)
	assert.Equal(t, 1, f.tc.fonts)

	req.Derivation.Kind = derivation.DrawioRender("stale-digest")
	_, err = f.a.Derive(context.Background(), req)
	assert.True(t, errors.IsValidation(err))
}

func TestPutObjectVerifiesInputKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	in := pak.Input{Path: "/content/a.md", Hash: pak.HashBytes([]byte("text"))}

	err := f.a.PutObject(ctx, pak.InputObjectKey(in), []byte("tampered"))
	assert.True(t, errors.IsValidation(err))

	require.NoError(t, f.a.PutObject(ctx, pak.InputObjectKey(in), []byte("text")))
	missing, err := f.a.ListMissing(ctx, []string{pak.InputObjectKey(in), "inputs/00/00.md"})
	require.NoError(t, err)
	assert.Equal(t, []string{"inputs/00/00.md"}, missing)
}

func TestRangeReadsThroughLayeredStore(t *testing.T) {
	ctx := context.Background()
	revs, err := revstore.Open(filepath.Join(t.TempDir(), "revisions.db"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = revs.Close() })

	durable := objectstore.NewMemory("durable")
	store := objectstore.NewLayered(logging.NewNop(), nil, objectstore.NewMemory("hot"), durable)
	a := New(logging.NewNop(), nil, store, revs, &upperTranscoder{}, Options{})

	data := []byte("pixels")
	in := pak.Input{Path: "/content/a.png", Hash: pak.HashBytes(data)}
	require.NoError(t, durable.Put(ctx, pak.InputObjectKey(in), data))

	part, err := a.GetObjectRange(ctx, pak.InputObjectKey(in), 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("xels"), part)

	_, err = a.GetObjectRange(ctx, "inputs/00/0000.png", 0, 4)
	assert.True(t, objectstore.IsNotFound(err))
}

func TestPutRevisionChecksID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	data, err := pak.Marshal(pak.New("rev-1"))
	require.NoError(t, err)

	assert.True(t, errors.IsValidation(f.a.PutRevision(ctx, "rev-2", data)))
	require.NoError(t, f.a.PutRevision(ctx, "rev-1", data))

	got, err := f.a.GetRevision(ctx, "rev-1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	latest, err := f.revs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, pak.RevisionID("rev-1"), latest)
}

func TestInputHashOf(t *testing.T) {
	h, ok := inputHashOf("inputs/ab/abcdef.png")
	assert.True(t, ok)
	assert.Equal(t, "abcdef", h)

	_, ok = inputHashOf("prod/derivations/ab/abcdef.webp")
	assert.False(t, ok)
}

func newHTTPFixture(t *testing.T, token string) (*fixture, *httptest.Server, *compute.Client) {
	t.Helper()
	f := newFixture(t, Options{})
	reg := prometheus.NewRegistry()
	health := monitoring.NewHealth(logging.NewNop(), "test", time.Second)
	srv := NewServer(logging.NewNop(), f.a, health, reg, ServerConfig{Token: token})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := compute.NewClient(ts.URL, token, 5*time.Second)
	require.NoError(t, err)

	return f, ts, client
}

func TestClientServerRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, _, client := newHTTPFixture(t, "s3cret")
	data := []byte("pixels")
	in := pak.Input{Path: "/content/a.png", Hash: pak.HashBytes(data)}

	missing, err := client.ListMissing(ctx, []string{pak.InputObjectKey(in)})
	require.NoError(t, err)
	assert.Equal(t, []string{pak.InputObjectKey(in)}, missing)

	require.NoError(t, client.PutObject(ctx, pak.InputObjectKey(in), data))

	svc := compute.NewService(logging.NewNop(), nil, client.Tier(), client, nil, compute.Config{Env: "prod"})
	out, err := svc.Derive(ctx, in, derivation.Derivation{Input: in.Path, Kind: derivation.Bitmap("webp", 400)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("bitmap:pixels"), out)
	assert.Equal(t, 1, f.tc.Calls())

	part, err := client.Tier().GetRange(ctx, pak.InputObjectKey(in), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("ixe"), part)

	_, err = client.Tier().Get(ctx, "inputs/00/0000.png")
	assert.True(t, objectstore.IsNotFound(err))

	err = client.PutObject(ctx, pak.InputObjectKey(in), []byte("tampered"))
	assert.True(t, errors.IsValidation(err))
}

func TestServerRequiresToken(t *testing.T) {
	_, ts, _ := newHTTPFixture(t, "s3cret")

	resp, err := http.Post(ts.URL+"/v1/missing", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestParseRange(t *testing.T) {
	off, n, err := parseRange("bytes=10-19")
	require.NoError(t, err)
	assert.Equal(t, int64(10), off)
	assert.Equal(t, int64(10), n)

	for _, h := range []string{"bytes=5-", "bytes=-5", "items=0-1", "bytes=0-1,4-5", "bytes=9-3"} {
		_, _, err := parseRange(h)
		assert.True(t, errors.IsValidation(err), h)
	}
}
