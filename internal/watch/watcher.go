// Package watch ingests documents as they appear in a directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// IngestFunc adds the file at path to the knowledge base.
type IngestFunc func(ctx context.Context, path string) error

type Config struct {
	Dir string
	// Debounce is how long a file must stay unchanged before it is ingested.
	Debounce time.Duration
	// Accept filters candidate files; nil accepts every regular file.
	Accept func(path string) bool
	Ingest IngestFunc
	// IngestExisting also ingests accepted files already present at start.
	IngestExisting bool
	Logger         *slog.Logger
}

// Watcher ingests each accepted file once. Later writes to a file that was
// already ingested are ignored.
type Watcher struct {
	cfg Config

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]bool

	ready   chan string
	done    chan struct{}
	started chan struct{}
}

func New(cfg Config) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Accept == nil {
		cfg.Accept = func(string) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]bool),
		ready:   make(chan string, 16),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Started is closed once the directory is being watched.
func (w *Watcher) Started() <-chan struct{} { return w.started }

// Run watches until ctx is cancelled. Ingestion errors are logged and do
// not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}
	close(w.started)
	w.cfg.Logger.Info("watching for documents", "dir", w.cfg.Dir)

	if err := w.scanExisting(ctx); err != nil {
		return err
	}

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.cfg.Logger.Warn("watch error", "err", err)
		case path := <-w.ready:
			w.ingest(ctx, path)
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.cfg.Dir, err)
	}
	var paths []string
	for _, e := range entries {
		path := filepath.Join(w.cfg.Dir, e.Name())
		if e.Type().IsRegular() && w.candidate(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		if !w.cfg.IngestExisting {
			w.markSeen(path)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		w.ingest(ctx, path)
	}
	return nil
}

func (w *Watcher) candidate(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".") && w.cfg.Accept(path)
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	path := ev.Name
	if !w.candidate(path) {
		return
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		w.cfg.Logger.Debug("ignoring change to ingested file", "path", path)
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) markSeen(path string) {
	w.mu.Lock()
	w.seen[path] = true
	w.mu.Unlock()
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	w.mu.Lock()
	if w.seen[path] {
		w.mu.Unlock()
		return
	}
	w.seen[path] = true
	w.mu.Unlock()

	if err := w.cfg.Ingest(ctx, path); err != nil {
		w.cfg.Logger.Warn("ingest failed", "path", path, "err", err)
		// Allow a later write to retry.
		w.mu.Lock()
		delete(w.seen, path)
		w.mu.Unlock()
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
