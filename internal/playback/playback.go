// Package playback polls a chunk store for the chunk that started a fixed delay
// ago and publishes it to an output file for the display process.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/AnishMulay/sandreplay/internal/chunk_store"
	"github.com/AnishMulay/sandreplay/internal/clock"
	"github.com/AnishMulay/sandreplay/internal/log_service"
)

// MinStep is the smallest change in target time that triggers a new lookup result
// being published.
const MinStep = 0.5

// ClampDelay limits delay to [min, max]. NaN becomes min.
func ClampDelay(delay, min, max float64) float64 {
	if math.IsNaN(delay) || delay < min {
		return min
	}
	if delay > max {
		return max
	}
	return delay
}

type Options struct {
	Store        chunk_store.ChunkStore
	Clock        clock.Clock
	DelaySeconds float64
	PollInterval time.Duration
	OutputPath   string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Ticker drives Run; defaults to the real clock.
	Ticker clockwork.Clock
	Log    log_service.LogService
}

type Poller struct {
	store    chunk_store.ChunkStore
	clock    clock.Clock
	delay    float64
	interval time.Duration
	output   string
	fs       afero.Fs
	ticker   clockwork.Clock
	ls       log_service.LogService

	mu         sync.Mutex
	lastPlayed float64
	played     bool
}

func NewPoller(opts Options) (*Poller, error) {
	if opts.Store == nil || opts.Clock == nil || opts.Log == nil {
		return nil, errors.New("playback: store, clock and log service are required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("playback: poll interval must be positive, got %v", opts.PollInterval)
	}
	if opts.OutputPath == "" {
		return nil, errors.New("playback: output path is required")
	}
	p := &Poller{
		store:    opts.Store,
		clock:    opts.Clock,
		delay:    opts.DelaySeconds,
		interval: opts.PollInterval,
		output:   opts.OutputPath,
		fs:       opts.Fs,
		ticker:   opts.Ticker,
		ls:       opts.Log,
	}
	if p.fs == nil {
		p.fs = afero.NewOsFs()
	}
	if p.ticker == nil {
		p.ticker = clockwork.NewRealClock()
	}
	if err := p.fs.MkdirAll(filepath.Dir(p.output), 0755); err != nil {
		return nil, fmt.Errorf("playback: create output directory: %w", err)
	}
	return p, nil
}

// Delay returns the configured playback delay in seconds.
func (p *Poller) Delay() float64 {
	return p.delay
}

// Target is the store-relative time currently due for playback. ok is false
// before the first chunk has latched the store epoch.
func (p *Poller) Target() (float64, bool) {
	st := p.store.Stats()
	if !st.EpochSet {
		return 0, false
	}
	return p.clock.Elapsed() - st.Epoch - p.delay, true
}

// Tick performs one poll. It reports whether a chunk was published.
func (p *Poller) Tick(ctx context.Context) (bool, error) {
	target, ok := p.Target()
	if !ok || target <= 0 {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.played && math.Abs(target-p.lastPlayed) < MinStep {
		return false, nil
	}

	payload, found, err := p.store.GetChunkForTime(ctx, target)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	if err := p.publish(payload); err != nil {
		return false, err
	}
	p.lastPlayed = target
	p.played = true

	p.ls.Debug(log_service.LogEvent{
		Message:  "Chunk published",
		Metadata: map[string]any{"target": target, "size": len(payload)},
	})
	return true, nil
}

func (p *Poller) publish(payload []byte) error {
	tmp := p.output + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, payload, 0644); err != nil {
		return fmt.Errorf("write playback output: %w", err)
	}
	if err := p.fs.Rename(tmp, p.output); err != nil {
		_ = p.fs.Remove(tmp)
		return fmt.Errorf("publish playback output: %w", err)
	}
	return nil
}

// Run polls every PollInterval until ctx is cancelled. Failed polls are logged
// and polling continues.
func (p *Poller) Run(ctx context.Context) error {
	p.ls.Info(log_service.LogEvent{
		Message:  "Playback started",
		Metadata: map[string]any{"delaySeconds": p.delay, "interval": p.interval.String(), "output": p.output},
	})

	t := p.ticker.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			if _, err := p.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.ls.Warn(log_service.LogEvent{
					Message:  "Playback poll failed",
					Metadata: map[string]any{"kind": chunk_store.ErrorKind(err), "error": err.Error()},
				})
			}
		}
	}
}
