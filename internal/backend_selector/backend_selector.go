// Package backend_selector picks the chunk store backend once at startup.
package backend_selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/AnishMulay/sandreplay/internal/chunk_store"
	"github.com/AnishMulay/sandreplay/internal/chunk_store/volatile"
	"github.com/AnishMulay/sandreplay/internal/clock"
	"github.com/AnishMulay/sandreplay/internal/config"
	"github.com/AnishMulay/sandreplay/internal/log_service"
)

// PersistentOpener builds a persistent store. Failure to open its resources
// must wrap chunk_store.ErrBackendUnavailable.
type PersistentOpener func(ctx context.Context) (chunk_store.ChunkStore, error)

type Options struct {
	// Mode is config.BackendAuto, config.BackendPersistent or config.BackendVolatile.
	Mode                     string
	ChunkSeconds             float64
	VolatileRetentionSeconds float64
	OpenPersistent           PersistentOpener
	Clock                    clock.Clock
	Log                      log_service.LogService
	Observer                 chunk_store.Observer
}

type Selection struct {
	Store   chunk_store.ChunkStore
	Backend string
	// MaxDelaySeconds is the longest delay the chosen backend can serve.
	MaxDelaySeconds float64
	// FellBack is set when auto mode could not open the persistent backend.
	FellBack bool
}

// Select opens and initializes the configured backend. In auto mode an
// unavailable persistent backend falls back to the volatile one.
func Select(ctx context.Context, opts Options) (Selection, error) {
	switch opts.Mode {
	case config.BackendVolatile:
		return openVolatile(ctx, opts, false)
	case config.BackendPersistent, config.BackendAuto:
	default:
		return Selection{}, fmt.Errorf("%w: unknown backend %q", chunk_store.ErrInvalidOptions, opts.Mode)
	}

	if opts.OpenPersistent == nil {
		if opts.Mode == config.BackendPersistent {
			return Selection{}, fmt.Errorf("%w: no persistent backend configured", chunk_store.ErrBackendUnavailable)
		}
		return openVolatile(ctx, opts, true)
	}

	store, err := opts.OpenPersistent(ctx)
	if err == nil {
		if err = store.Init(ctx); err != nil {
			_ = store.Close()
		}
	}
	if err != nil {
		if opts.Mode == config.BackendAuto && errors.Is(err, chunk_store.ErrBackendUnavailable) {
			opts.Log.Warn(log_service.LogEvent{
				Message:  "Persistent storage unavailable, falling back to memory",
				Metadata: map[string]any{"error": err.Error()},
			})
			return openVolatile(ctx, opts, true)
		}
		return Selection{}, err
	}

	st := store.Stats()
	opts.Log.Info(log_service.LogEvent{
		Message:  "Storage selected",
		Metadata: map[string]any{"backend": chunk_store.BackendPersistent, "maxDelaySeconds": st.RetentionSeconds},
	})
	return Selection{
		Store:           store,
		Backend:         chunk_store.BackendPersistent,
		MaxDelaySeconds: st.RetentionSeconds,
	}, nil
}

func openVolatile(ctx context.Context, opts Options, fellBack bool) (Selection, error) {
	store, err := volatile.NewVolatileChunkStore(volatile.Options{
		RetentionSeconds: opts.VolatileRetentionSeconds,
		ChunkSeconds:     opts.ChunkSeconds,
		Clock:            opts.Clock,
		Log:              opts.Log,
		Observer:         opts.Observer,
	})
	if err != nil {
		return Selection{}, err
	}
	if err := store.Init(ctx); err != nil {
		return Selection{}, err
	}

	opts.Log.Info(log_service.LogEvent{
		Message:  "Storage selected",
		Metadata: map[string]any{"backend": chunk_store.BackendVolatile, "maxDelaySeconds": opts.VolatileRetentionSeconds, "capacity": store.Capacity()},
	})
	return Selection{
		Store:           store,
		Backend:         chunk_store.BackendVolatile,
		MaxDelaySeconds: opts.VolatileRetentionSeconds,
		FellBack:        fellBack,
	}, nil
}
