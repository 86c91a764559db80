package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AnishMulay/sandreplay/internal/config"
	"github.com/AnishMulay/sandreplay/servers/replay"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Delay   float64
	Backend string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest segments and play them back after a delay",
		Long: `Start ingestion and delayed playback.

Segments renamed into the ingest directory are stored in order. The chunk
that started --delay seconds ago is written to the playback output path.

Example:
  sandreplay run --config ./sandreplay.yaml --delay 15
  SANDREPLAY_STORAGE_BACKEND=volatile sandreplay run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Delay, "delay", 0, "playback delay in seconds (overrides playback.delay_seconds)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "storage backend: auto, persistent or volatile (overrides storage.backend)")

	return cmd
}

func runReplay(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.ConfigPath, opts.Backend)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	srv, err := replay.Build(ctx, replay.Options{Config: cfg, DelaySeconds: opts.Delay})
	if err != nil {
		return fmt.Errorf("failed to start replay: %w", err)
	}

	sel := srv.Selection()
	fmt.Fprintf(cmd.OutOrStdout(), "backend=%s delay=%.1fs max=%.0fs ingest=%s output=%s\n",
		sel.Backend, srv.Poller().Delay(), sel.MaxDelaySeconds, cfg.Ingest.Dir, cfg.Playback.OutputPath)

	return srv.RunUntilSignal()
}

func loadConfig(path, backend string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backend != "" {
		cfg.Storage.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
