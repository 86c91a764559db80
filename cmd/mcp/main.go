package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/AnishMulay/sandreplay/internal/config"
	"github.com/AnishMulay/sandreplay/servers/replay"
)

func main() {
	configPath := flag.String("config", "sandreplay.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := replay.Build(ctx, replay.Options{Config: cfg})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Replay error: %v\n", err)
		os.Exit(1)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	s := server.NewMCPServer(
		"sandreplay",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, srv.Store())

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}

	stop()
	if err := <-done; err != nil {
		fmt.Fprintf(os.Stderr, "Replay error: %v\n", err)
		os.Exit(1)
	}
}
