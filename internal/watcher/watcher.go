// Package watcher keeps the dataset catalog up to date while videos are
// being dropped into the data tree.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bdougie/adrenalset/internal/embeddings"
	"github.com/bdougie/adrenalset/internal/labels"
	"github.com/bdougie/adrenalset/internal/loader"
	"github.com/bdougie/adrenalset/internal/storage"
)

const DefaultDebounce = 2 * time.Second

// VideoLoader is the part of loader.Loader the watcher needs.
type VideoLoader interface {
	LoadVideo(ctx context.Context, videoPath string) ([]uint8, int, error)
}

// Options configures a Watcher.
type Options struct {
	Frames     int
	Height     int
	Width      int
	Extensions []string
	// FingerprintSize is the side of the fingerprint grid; 0 disables
	// fingerprints.
	FingerprintSize int
	Debounce        time.Duration
}

// Watcher ingests new or modified videos into a catalog.
type Watcher struct {
	loader VideoLoader
	store  storage.Storage
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	// Ingested receives the relative path of every catalogued video. It
	// may be nil.
	Ingested chan<- string
}

func New(l VideoLoader, store storage.Storage, opts Options, logger *slog.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = loader.DefaultExtensions
	}
	return &Watcher{
		loader: l,
		store:  store,
		opts:   opts,
		logger: logger,
		timers: map[string]*time.Timer{},
	}
}

// Run watches dataDir until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, dataDir string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := addTree(fsw, dataDir); err != nil {
		return err
	}
	w.logger.Info("watching for videos", "dir", dataDir, "debounce", w.opts.Debounce)

	events := make(chan string)
	done := make(chan struct{})
	defer func() {
		close(done)
		w.stopTimers()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event, events, done)

		case path := <-events:
			if err := w.Ingest(ctx, dataDir, path); err != nil {
				w.logger.Warn("failed to ingest video", "video", path, "error", err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event, ready chan<- string, done <-chan struct{}) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if err := addTree(fsw, event.Name); err != nil {
			w.logger.Warn("failed to watch directory", "dir", event.Name, "error", err)
		}
		return
	}
	if !loader.IsVideo(event.Name, w.opts.Extensions) {
		return
	}

	// writes come in bursts while a file is copied, wait for them to settle
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[event.Name]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	path := event.Name
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// Ingest decodes one video below dataDir and adds it to the catalog.
func (w *Watcher) Ingest(ctx context.Context, dataDir, path string) error {
	label, rel, err := LabelFromPath(dataDir, path)
	if err != nil {
		return err
	}

	pixels, sourceFrames, err := w.loader.LoadVideo(ctx, path)
	if err != nil {
		return err
	}

	ds := loader.NewDataset(w.opts.Frames, w.opts.Height, w.opts.Width)
	if err := ds.Append(loader.Video{Path: rel, Label: label, SourceFrames: sourceFrames, Pixels: pixels}); err != nil {
		return err
	}
	entry := ds.Entry(0)

	if w.opts.FingerprintSize > 0 {
		fp, err := embeddings.FromFrames(embeddings.Frames{
			Pixels: pixels, Count: ds.Frames, Height: ds.Height, Width: ds.Width,
		}, w.opts.FingerprintSize)
		if err != nil {
			return err
		}
		entry.Fingerprint = fp
	}

	if err := w.store.AddEntry(ctx, entry); err != nil {
		return err
	}
	if err := w.store.Flush(); err != nil {
		return err
	}

	w.logger.Info("catalogued video", "video", rel, "label", entry.LabelName, "frames", sourceFrames)
	if w.Ingested != nil {
		select {
		case w.Ingested <- rel:
		case <-ctx.Done():
		}
	}
	return nil
}

// LabelFromPath derives the label of a video from its position
// dataDir/<side>/<class>/<file>.
func LabelFromPath(dataDir, path string) (labels.Label, string, error) {
	rel, err := filepath.Rel(dataDir, path)
	if err != nil {
		return labels.Label{}, "", err
	}
	rel = filepath.ToSlash(rel)

	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return labels.Label{}, "", fmt.Errorf("'%s' is not at <side>/<class>/<file>", rel)
	}
	side, err := labels.ParseSide(parts[0])
	if err != nil {
		return labels.Label{}, "", err
	}
	class, err := labels.ParseClass(parts[1])
	if err != nil {
		return labels.Label{}, "", err
	}
	return labels.Label{Side: side, Class: class}, rel, nil
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return fmt.Errorf("failed to watch '%s': %w", path, err)
			}
		}
		return nil
	})
}
