package revstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "revisions.db")
	s, err := Open(path, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestLatestIsNotFoundWhenEmpty(t *testing.T) {
	s, _ := openStore(t)

	_, err := s.Latest(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = s.Get(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestSavePakMovesLatest(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	first := pak.New("rev-1")
	first.Inputs["/content/a.md"] = pak.Input{Path: "/content/a.md", Hash: "h1"}
	require.NoError(t, s.SavePak(ctx, first))

	second := first.Clone("rev-2")
	second.Inputs["/content/b.md"] = pak.Input{Path: "/content/b.md", Hash: "h2"}
	require.NoError(t, s.SavePak(ctx, second))

	latest, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, pak.RevisionID("rev-2"), latest.ID)
	assert.Len(t, latest.Inputs, 2)

	older, err := s.LoadPak(ctx, "rev-1")
	require.NoError(t, err)
	assert.Len(t, older.Inputs, 1)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Latest)
	assert.True(t, entries[1].Latest)
}

func TestSetLatestRequiresStoredRevision(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	assert.True(t, errors.IsNotFound(s.SetLatest(ctx, "nope")))

	require.NoError(t, s.Put(ctx, "rev-9", []byte("payload")))
	require.NoError(t, s.SetLatest(ctx, "rev-9"))

	id, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, pak.RevisionID("rev-9"), id)

	assert.True(t, errors.IsValidation(s.Put(ctx, "", nil)))
}

func TestReopenKeepsRevisions(t *testing.T) {
	s, path := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePak(ctx, pak.New("rev-1")))
	require.NoError(t, s.Close())

	reopened, err := Open(path, logging.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	id, err := reopened.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, pak.RevisionID("rev-1"), id)
}
