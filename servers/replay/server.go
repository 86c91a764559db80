package replay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/AnishMulay/sandreplay/internal/backend_selector"
	blobarea "github.com/AnishMulay/sandreplay/internal/blob_area/localdisc"
	"github.com/AnishMulay/sandreplay/internal/chunk_store"
	"github.com/AnishMulay/sandreplay/internal/chunk_store/persistent"
	"github.com/AnishMulay/sandreplay/internal/clock"
	"github.com/AnishMulay/sandreplay/internal/config"
	"github.com/AnishMulay/sandreplay/internal/ingest"
	"github.com/AnishMulay/sandreplay/internal/log_service"
	logservice "github.com/AnishMulay/sandreplay/internal/log_service/localdisc"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
	"github.com/AnishMulay/sandreplay/internal/metadata_index/inmemory"
	pebblestore "github.com/AnishMulay/sandreplay/internal/metadata_index/pebble"
	"github.com/AnishMulay/sandreplay/internal/metadata_index/sqlite"
	"github.com/AnishMulay/sandreplay/internal/metrics"
	"github.com/AnishMulay/sandreplay/internal/playback"
)

type Options struct {
	Config *config.Config
	// DelaySeconds overrides playback.delay_seconds when positive.
	DelaySeconds float64
	// Clock overrides the real clock.
	Clock clockwork.Clock
}

// ReplayServer ingests segments into the selected store and plays them back
// after the configured delay.
type ReplayServer struct {
	cfg       *config.Config
	ls        *logservice.LocalDiscLogService
	metrics   *metrics.StoreMetrics
	selection backend_selector.Selection
	watcher   *ingest.Watcher
	poller    *playback.Poller

	closeOnce sync.Once
	closeErr  error
}

func Build(ctx context.Context, opts Options) (*ReplayServer, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	ls, err := logservice.NewLocalDiscLogService(logservice.Options{
		LogDir:     cfg.LogDir(),
		NodeID:     cfg.NodeID,
		MinLevel:   cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, err
	}

	base := opts.Clock
	if base == nil {
		base = clockwork.NewRealClock()
	}
	clk := clock.New(base)
	sm := metrics.New()

	selection, err := backend_selector.Select(ctx, backend_selector.Options{
		Mode:                     cfg.Storage.Backend,
		ChunkSeconds:             cfg.Storage.ChunkSeconds,
		VolatileRetentionSeconds: cfg.Storage.VolatileRetentionSeconds,
		OpenPersistent:           persistentOpener(cfg, clk, ls, sm),
		Clock:                    clk,
		Log:                      ls,
		Observer:                 sm,
	})
	if err != nil {
		ls.Close()
		return nil, err
	}

	watcher, err := ingest.NewWatcher(ingest.Options{
		Dir:            cfg.Ingest.Dir,
		RemoveConsumed: cfg.Ingest.RemoveConsumed,
		Store:          selection.Store,
		Log:            ls,
	})
	if err != nil {
		selection.Store.Close()
		ls.Close()
		return nil, err
	}

	requested := cfg.Playback.DelaySeconds
	if opts.DelaySeconds > 0 {
		requested = opts.DelaySeconds
	}
	delay := playback.ClampDelay(requested, cfg.Playback.MinDelaySeconds, selection.MaxDelaySeconds)
	if delay != requested {
		ls.Warn(log_service.LogEvent{
			Message:  "Playback delay clamped",
			Metadata: map[string]any{"requested": requested, "delaySeconds": delay, "maxDelaySeconds": selection.MaxDelaySeconds},
		})
	}

	poller, err := playback.NewPoller(playback.Options{
		Store:        selection.Store,
		Clock:        clk,
		DelaySeconds: delay,
		PollInterval: cfg.Playback.PollInterval,
		OutputPath:   cfg.Playback.OutputPath,
		Ticker:       base,
		Log:          ls,
	})
	if err != nil {
		selection.Store.Close()
		ls.Close()
		return nil, err
	}

	return &ReplayServer{
		cfg:       cfg,
		ls:        ls,
		metrics:   sm,
		selection: selection,
		watcher:   watcher,
		poller:    poller,
	}, nil
}

// persistentOpener opens the configured metadata index and the blob area.
// Either failing makes the persistent backend unavailable.
func persistentOpener(cfg *config.Config, clk clock.Clock, ls log_service.LogService, obs chunk_store.Observer) backend_selector.PersistentOpener {
	return func(ctx context.Context) (chunk_store.ChunkStore, error) {
		index, err := openIndex(cfg, ls)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", chunk_store.ErrBackendUnavailable, err)
		}

		blobs, err := blobarea.NewLocalDiscBlobArea(cfg.BlobDir(), ls)
		if err != nil {
			index.Close()
			return nil, fmt.Errorf("%w: %w", chunk_store.ErrBackendUnavailable, err)
		}

		store, err := persistent.NewPersistentChunkStore(persistent.Options{
			RetentionSeconds: cfg.Storage.PersistentRetentionSeconds,
			IOTimeout:        cfg.Storage.IOTimeout,
			Clock:            clk,
			Index:            index,
			Blobs:            blobs,
			Log:              ls,
			Observer:         obs,
		})
		if err != nil {
			index.Close()
			return nil, err
		}
		return store, nil
	}
}

func openIndex(cfg *config.Config, ls log_service.LogService) (metadata_index.MetadataIndex, error) {
	switch cfg.Storage.Index {
	case config.IndexMemory:
		return inmemory.NewInMemoryMetadataIndex(), nil
	case config.IndexPebble:
		return pebblestore.Open(pebblestore.Options{DataDir: cfg.PebbleDir()}, ls)
	default:
		path := cfg.IndexPath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", metadata_index.ErrIndexUnavailable, err)
		}
		return sqlite.Open(path, ls)
	}
}

func (s *ReplayServer) Store() chunk_store.ChunkStore {
	return s.selection.Store
}

func (s *ReplayServer) Selection() backend_selector.Selection {
	return s.selection
}

func (s *ReplayServer) Poller() *playback.Poller {
	return s.poller
}

func (s *ReplayServer) Log() log_service.LogService {
	return s.ls
}

// Run ingests and plays back until ctx is cancelled, then releases the store.
func (s *ReplayServer) Run(ctx context.Context) error {
	defer s.Close()

	s.ls.Info(log_service.LogEvent{
		Message: "Replay server starting",
		Metadata: map[string]any{
			"backend":      s.selection.Backend,
			"fellBack":     s.selection.FellBack,
			"delaySeconds": s.poller.Delay(),
			"ingestDir":    s.cfg.Ingest.Dir,
		},
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.watcher.Run(ctx) })
	g.Go(func() error { return s.poller.Run(ctx) })

	if s.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		srv := &http.Server{Addr: s.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	s.ls.Info(log_service.LogEvent{Message: "Replay server stopped"})
	return err
}

// RunUntilSignal runs until SIGINT or SIGTERM.
func (s *ReplayServer) RunUntilSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Close releases the store and the log file. It is safe to call more than once.
func (s *ReplayServer) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.selection.Store.Close()
		if err := s.ls.Close(); s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
