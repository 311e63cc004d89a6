package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]int // path -> remaining failures
	ch    chan string
}

func newRecorder() *recorder {
	return &recorder{fail: make(map[string]int), ch: make(chan string, 32)}
}

func (r *recorder) ingest(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[path] > 0 {
		r.fail[path]--
		return errors.New("boom")
	}
	r.paths = append(r.paths, filepath.Base(path))
	r.ch <- filepath.Base(path)
	return nil
}

func (r *recorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		if got != want {
			t.Fatalf("expected %s to be ingested, got %s", want, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func (r *recorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-r.ch:
		t.Fatalf("unexpected ingestion of %s", got)
	case <-time.After(d):
	}
}

func textOnly(path string) bool { return strings.HasSuffix(path, ".txt") }

func startWatcher(t *testing.T, cfg Config) context.CancelFunc {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	w := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	select {
	case <-w.Started():
	case err := <-errc:
		t.Fatalf("watcher failed to start: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not start")
	}
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Run returned %v", err)
		}
	})
	return cancel
}

func TestWatcher_IngestsNewFileOnce(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, Config{Dir: dir, Debounce: 30 * time.Millisecond, Accept: textOnly, Ingest: rec.ingest})

	path := filepath.Join(dir, "monday.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		f.WriteString("Went for a walk. ")
		time.Sleep(5 * time.Millisecond)
	}
	f.Close()

	rec.wait(t, "monday.txt")

	// Edits after ingestion are not re-embedded.
	os.WriteFile(path, []byte("changed"), 0o644)
	rec.expectNone(t, 150*time.Millisecond)
}

func TestWatcher_FiltersCandidates(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, Config{Dir: dir, Debounce: 20 * time.Millisecond, Accept: textOnly, Ingest: rec.ingest})

	os.WriteFile(filepath.Join(dir, ".draft.txt"), []byte("hidden"), 0o644)
	os.WriteFile(filepath.Join(dir, "photo.png"), []byte("png"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755)
	rec.expectNone(t, 150*time.Millisecond)

	os.WriteFile(filepath.Join(dir, "kept.txt"), []byte("x"), 0o644)
	rec.wait(t, "kept.txt")
}

func TestWatcher_ExistingFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)

	t.Run("ingested in name order", func(t *testing.T) {
		rec := newRecorder()
		startWatcher(t, Config{Dir: dir, Debounce: 20 * time.Millisecond, Accept: textOnly, Ingest: rec.ingest, IngestExisting: true})
		rec.wait(t, "a.txt")
		rec.wait(t, "b.txt")
	})

	t.Run("skipped by default", func(t *testing.T) {
		rec := newRecorder()
		startWatcher(t, Config{Dir: dir, Debounce: 20 * time.Millisecond, Accept: textOnly, Ingest: rec.ingest})
		os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a again"), 0o644)
		rec.expectNone(t, 150*time.Millisecond)
	})
}

func TestWatcher_RetriesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	path := filepath.Join(dir, "flaky.txt")
	rec.fail[path] = 1
	startWatcher(t, Config{Dir: dir, Debounce: 20 * time.Millisecond, Accept: textOnly, Ingest: rec.ingest})

	os.WriteFile(path, []byte("first"), 0o644)
	rec.expectNone(t, 150*time.Millisecond)

	os.WriteFile(path, []byte("second"), 0o644)
	rec.wait(t, "flaky.txt")
}

func TestWatcher_MissingDir(t *testing.T) {
	w := New(Config{Dir: filepath.Join(t.TempDir(), "nope"), Ingest: func(context.Context, string) error { return nil }})
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
