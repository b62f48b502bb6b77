package mediaprops

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/pak"
)

func TestCommitPersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state", "media.db")

	c, err := Open(ctx, dbPath)
	require.NoError(t, err)

	props := pak.MediaProps{Kind: pak.MediaBitmap, Width: 2000, Height: 1000, Density: 1, Codec: "png"}
	c.Insert("aaaa", props)

	got, ok := c.Get("aaaa")
	require.True(t, ok)
	assert.Equal(t, props, got)

	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.Close())

	reopened, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok = reopened.Get("aaaa")
	require.True(t, ok)
	assert.Equal(t, props, got)
	assert.Equal(t, 1, reopened.Len())
}

func TestUncommittedInsertsAreLost(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "media.db")

	c, err := Open(ctx, dbPath)
	require.NoError(t, err)
	c.Insert("bbbb", pak.MediaProps{Kind: pak.MediaAudio, Codec: "mp3"})
	require.NoError(t, c.Close())

	reopened, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok := reopened.Get("bbbb")
	assert.False(t, ok)
}

func TestConcurrentInsertAndGet(t *testing.T) {
	c := NewEphemeral()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := pak.ContentHash(fmt.Sprintf("h%02d", i))
			c.Insert(h, pak.MediaProps{Kind: pak.MediaBitmap, Width: uint32(i)})
			_, ok := c.Get(h)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
	assert.NoError(t, c.Commit(context.Background()))
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}
