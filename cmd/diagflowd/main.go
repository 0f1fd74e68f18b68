package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/apittopti/diagflow/internal/api"
	"github.com/apittopti/diagflow/internal/archive"
	"github.com/apittopti/diagflow/internal/config"
	"github.com/apittopti/diagflow/internal/events"
	"github.com/apittopti/diagflow/internal/knownids"
	"github.com/apittopti/diagflow/internal/odx"
	"github.com/apittopti/diagflow/internal/processor"
	"github.com/apittopti/diagflow/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel, cfg.LogFile)

	slog.Info("diagflow starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Bootstrap(ctx); err != nil {
		slog.Error("failed to bootstrap schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Known identifier names: the standard UDS table plus an optional
	// site-specific overlay.
	names := knownids.Standard()
	if cfg.KnownIDsPath != "" {
		if err := names.LoadOverlay(cfg.KnownIDsPath); err != nil {
			slog.Warn("known-id overlay not loaded", "path", cfg.KnownIDsPath, "error", err)
		} else {
			slog.Info("known-id overlay loaded", "path", cfg.KnownIDsPath, "entries", names.Len())
		}
	}

	// NATS (optional — without it ingest is HTTP-only)
	var bus *events.Client
	if cfg.NatsURL != "" {
		bus, err = events.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Warn("NATS unavailable — running without the event bus", "error", err)
			bus = nil
		} else {
			defer bus.Close()
			slog.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	// ClickHouse raw-message archive (optional)
	var arch *archive.Writer
	if cfg.ClickHouseAddr != "" {
		arch, err = archive.New(ctx, archive.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		}, slog.Default())
		if err != nil {
			slog.Warn("clickhouse unavailable — running without the raw archive", "error", err)
			arch = nil
		} else {
			defer arch.Close()
			slog.Info("clickhouse connected", "addr", cfg.ClickHouseAddr)
		}
	}

	// Optional collaborators go in as interfaces; a nil concrete pointer
	// must not end up behind a non-nil interface.
	var pub processor.Publisher
	if bus != nil {
		pub = bus
	}
	var rawArchive processor.Archiver
	if arch != nil {
		rawArchive = arch
	}
	var sink odx.Sink
	if cfg.ExportDir != "" {
		sink = &odx.FileSink{Dir: cfg.ExportDir}
		slog.Info("document export enabled", "dir", cfg.ExportDir)
	}

	// Processor — the ingest pipeline
	proc := processor.New(db, db, pub, rawArchive, sink, names, slog.Default())

	// Subscribe to stored-trace events
	if bus != nil {
		if err := bus.Subscribe(events.SubjectTraceStored, proc.HandleTraceStored); err != nil {
			slog.Error("failed to subscribe to trace events", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, proc, db, db, slog.Default())
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if bus != nil {
		if err := bus.Publish("diag.service.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("diagflow ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	cancel()
	slog.Info("diagflow stopped")
}

func setupLogging(level, file string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if file != "" {
		out = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
