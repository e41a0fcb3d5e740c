package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clause/internal/config"
	"clause/internal/protocol"
	"clause/internal/realtime"
	"clause/internal/session"
	"clause/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	state := session.NewState()

	// Emitter callbacks are bound after the hub is created.
	var hub *realtime.Hub
	emit := session.EmitterFunc(func(ev session.Event) {
		if hub != nil {
			hub.Emit(ev)
		}
	})
	fileWatch := watcher.New(func(change protocol.FileChangePayload) {
		if hub != nil {
			hub.OnFileChange(change)
		}
	}, logger.With("component", "watcher"))

	supervisor := session.NewSupervisor(state, session.CLILauncher{Path: cfg.ClaudePath}, emit, logger.With("component", "session"))
	dispatcher := session.NewDispatcher(state, supervisor)

	hub = realtime.NewHub(realtime.Options{
		Sender:     dispatcher,
		Sessions:   state,
		Watcher:    fileWatch,
		ClaudePath: cfg.ClaudePath,
		StaticDir:  cfg.StaticDir,
		History:    cfg.EventHistory,
		Logger:     logger.With("component", "realtime"),
	})

	for _, dir := range cfg.WatchDirs {
		if err := fileWatch.Watch(dir); err != nil {
			logger.Warn("failed to watch directory", "path", dir, "error", err)
		}
	}

	// Set up HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: hub.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down")
		fileWatch.Shutdown()
		supervisor.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			httpServer.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if !session.Available(ctx, cfg.ClaudePath) {
		logger.Warn("claude CLI not available; sends will fail until it is installed", "path", cfg.ClaudePath)
	}
	cancel()

	logger.Info("clause server running", "addr", "http://localhost"+addr, "claude", cfg.ClaudePath)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
}
