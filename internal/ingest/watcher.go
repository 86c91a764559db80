// Package ingest feeds segment files written by an external encoder into a chunk store.
//
// The encoder writes each segment under a temporary name (leading "." or a
// ".part"/".tmp" suffix) and renames it into the watched directory when the
// segment is complete. Each completed file becomes one AddChunk call, at most
// once per file name. A file that is still empty when seen is left in place
// for a later event or rescan.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/AnishMulay/sandreplay/internal/chunk_store"
	"github.com/AnishMulay/sandreplay/internal/log_service"
)

type Options struct {
	Dir            string
	RemoveConsumed bool
	Store          chunk_store.ChunkStore
	Log            log_service.LogService
}

// Watcher is the single writer of its store: files are consumed one at a time.
type Watcher struct {
	dir            string
	removeConsumed bool
	store          chunk_store.ChunkStore
	ls             log_service.LogService

	mu sync.Mutex
	// consumed holds names already stored, so rescans of a directory whose
	// files are kept do not store them again.
	consumed map[string]struct{}
}

func NewWatcher(opts Options) (*Watcher, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ingest directory: %w", err)
	}
	return &Watcher{
		dir:            opts.Dir,
		removeConsumed: opts.RemoveConsumed,
		store:          opts.Store,
		ls:             opts.Log,
		consumed:       make(map[string]struct{}),
	}, nil
}

// Pending reports whether name looks like a segment still being written.
func Pending(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".part") || strings.HasSuffix(base, ".tmp")
}

// Consume adds the file at path as one chunk. Names already consumed and empty
// files are skipped. A failed AddChunk drops the segment; it is not retried.
func (w *Watcher) Consume(ctx context.Context, path string) error {
	if Pending(path) {
		return nil
	}
	name := filepath.Base(path)
	if w.isConsumed(name) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read segment %s: %w", path, err)
	}

	if len(data) == 0 {
		w.ls.Debug(log_service.LogEvent{
			Message:  "Skipping empty segment",
			Metadata: map[string]any{"path": path},
		})
		return nil
	}

	w.markConsumed(name)
	defer w.remove(path)

	if err := w.store.AddChunk(ctx, data); err != nil {
		w.ls.Error(log_service.LogEvent{
			Message:  "Segment dropped",
			Metadata: map[string]any{"path": path, "size": len(data), "kind": chunk_store.ErrorKind(err), "error": err.Error()},
		})
	}
	return nil
}

func (w *Watcher) isConsumed(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.consumed[name]
	return ok
}

func (w *Watcher) markConsumed(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.consumed[name] = struct{}{}
}

// forgetMissing drops consumed names that are no longer in the directory.
func (w *Watcher) forgetMissing(present map[string]struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name := range w.consumed {
		if _, ok := present[name]; !ok {
			delete(w.consumed, name)
		}
	}
}

func (w *Watcher) remove(path string) {
	if !w.removeConsumed {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.ls.Warn(log_service.LogEvent{
			Message:  "Failed to remove consumed segment",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return
	}
	// The name is free for a later segment once the file is gone.
	w.mu.Lock()
	delete(w.consumed, filepath.Base(path))
	w.mu.Unlock()
}

// Backlog consumes files already present in the directory in name order.
func (w *Watcher) Backlog(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("list ingest directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		present[e.Name()] = struct{}{}
		if e.Type().IsRegular() && !Pending(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	w.forgetMissing(present)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.Consume(ctx, filepath.Join(w.dir, name)); err != nil {
			w.ls.Warn(log_service.LogEvent{
				Message:  "Failed to consume segment",
				Metadata: map[string]any{"path": name, "error": err.Error()},
			})
		}
	}
	return nil
}

// Run drains the backlog and then consumes new segments until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	w.ls.Info(log_service.LogEvent{
		Message:  "Watching for segments",
		Metadata: map[string]any{"dir": w.dir},
	})

	if err := w.Backlog(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Renames into the directory surface as Create.
			if !event.Has(fsnotify.Create) {
				continue
			}
			if err := w.Consume(ctx, event.Name); err != nil {
				w.ls.Warn(log_service.LogEvent{
					Message:  "Failed to consume segment",
					Metadata: map[string]any{"path": event.Name, "error": err.Error()},
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.ls.Warn(log_service.LogEvent{Message: "Watcher overflow, rescanning ingest directory"})
				if err := w.Backlog(ctx); err != nil {
					return err
				}
				continue
			}
			w.ls.Error(log_service.LogEvent{
				Message:  "Watcher error",
				Metadata: map[string]any{"error": err.Error()},
			})
		}
	}
}
