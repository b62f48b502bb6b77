package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

func TestDebouncerBatches(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	d.Add(pak.Created("/content/a.md"))
	d.Add(pak.Modified("/content/a.md"))
	d.Add(pak.Removed("/content/b.md"))

	select {
	case batch := <-d.Output():
		assert.Equal(t, []pak.InputEvent{
			pak.Created("/content/a.md"),
			pak.Modified("/content/a.md"),
			pak.Removed("/content/b.md"),
		}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}

	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerHoldsWhileConsumerBusy(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	defer d.Stop()

	d.Add(pak.Created("/content/a.md"))
	time.Sleep(50 * time.Millisecond)
	d.Add(pak.Created("/content/b.md"))
	time.Sleep(50 * time.Millisecond)

	first := <-d.Output()
	assert.Equal(t, []pak.InputEvent{pak.Created("/content/a.md")}, first)

	select {
	case second := <-d.Output():
		assert.Equal(t, []pak.InputEvent{pak.Created("/content/b.md")}, second)
	case <-time.After(2 * time.Second):
		t.Fatal("held batch never delivered")
	}
}

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()
	w, err := New(logging.NewNop(), pak.PathMappings{{InputPrefix: "/content", DiskPrefix: pak.DiskPath(root)}}, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	return w, root
}

func TestTranslate(t *testing.T) {
	w, root := newTestWatcher(t)
	sub := filepath.Join(root, "posts")
	require.NoError(t, os.Mkdir(sub, 0o755))

	tests := []struct {
		name string
		ev   fsnotify.Event
		want pak.InputEvent
		ok   bool
	}{
		{"create", fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Create}, pak.Created("/content/a.md"), true},
		{"create dir", fsnotify.Event{Name: sub, Op: fsnotify.Create}, pak.Created("/content/posts"), true},
		{"write", fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Write}, pak.Modified("/content/a.md"), true},
		{"remove", fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Remove}, pak.Removed("/content/a.md"), true},
		{"rename", fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Rename}, pak.Removed("/content/a.md"), true},
		{"chmod", fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Chmod}, pak.InputEvent{}, false},
		{"editor swap", fsnotify.Event{Name: filepath.Join(root, ".a.md.swp"), Op: fsnotify.Create}, pak.InputEvent{}, false},
		{"unmapped", fsnotify.Event{Name: "/elsewhere/a.md", Op: fsnotify.Create}, pak.InputEvent{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := w.translate(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunDeliversFileChanges(t *testing.T) {
	w, root := newTestWatcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batches := make(chan []pak.InputEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, events []pak.InputEvent) error {
			batches <- events
			return nil
		})
	}()

	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.md"), []byte("<p>hi</p>"), 0o644))

	select {
	case batch := <-batches:
		assert.Contains(t, batch, pak.Created("/content/hello.md"))
	case <-ctx.Done():
		t.Fatal("no change delivered")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestRunStopsOnHandlerError(t *testing.T) {
	w, root := newTestWatcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context, []pak.InputEvent) error {
			return errors.NewValidationError(errors.ErrCodeInvalidInput, "bad page")
		})
	}()
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.md"), []byte("x"), 0o644))

	select {
	case err := <-done:
		assert.True(t, errors.IsValidation(err))
	case <-ctx.Done():
		t.Fatal("watcher did not stop")
	}
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := New(logging.NewNop(), pak.PathMappings{{InputPrefix: "/content", DiskPrefix: "/does/not/exist"}}, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeIO, errors.TypeOf(err))
}
