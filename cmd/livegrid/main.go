// Package main is the entry point for the livegrid server.
//
// livegrid serves a very large, append-mostly table to many concurrent
// viewers: paginated row reads, last-writer-wins field patches, and a
// broadcast relay that fans every committed write out to all connected
// viewer sessions, across processes via a shared relay hub. Configuration
// comes from CLI flags and an optional config.hujson in the data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/livegrid/livegrid/internal/config"
	"github.com/livegrid/livegrid/internal/relay"
	"github.com/livegrid/livegrid/internal/server"
	"github.com/livegrid/livegrid/internal/store"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "livegrid: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	hubURL := flag.String("hub", "", "Websocket URL of the shared relay hub (overrides config); empty for process-local delivery only")
	serveHub := flag.Bool("serve-hub", false, "Host the shared relay hub at /api/relay on this process")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	slog.SetDefault(newLogger(*logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(*dataDir)
	if err != nil {
		return err
	}
	if *hubURL != "" {
		cfg.HubURL = *hubURL
	}

	table, err := store.NewTable(filepath.Join(*dataDir, "rows.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to open row table: %w", err)
	}
	layout, err := store.NewLayout(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to open layout: %w", err)
	}
	// Pick up rows appended by livegrid-import while running.
	go func() {
		if err := table.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Table watcher stopped", "err", err)
		}
	}()

	bus := relay.NewBus()
	var rl relay.Relay = bus
	if cfg.HubURL != "" {
		bridge := relay.NewHubBridge(bus, cfg.HubURL)
		go bridge.Run(ctx)
		rl = bridge
	}
	var hub *relay.Hub
	if *serveHub {
		hub = relay.NewHub()
	}

	httpServer := &http.Server{
		Addr:        *httpAddr,
		Handler:     server.NewRouter(cfg, table, layout, rl, hub),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", *httpAddr, "rows", table.Len(), "hub", cfg.HubURL, "serveHub", *serveHub)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.Info("Server stopped")
	}
	return nil
}

// newLogger initializes a structured logger with the given level.
func newLogger(level string) *slog.Logger {
	ll := slog.LevelInfo
	switch level {
	case "debug":
		ll = slog.LevelDebug
	case "info":
		ll = slog.LevelInfo
	case "warn":
		ll = slog.LevelWarn
	case "error":
		ll = slog.LevelError
	}
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}
