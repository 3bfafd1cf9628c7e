package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/freeda-io/freeda/internal/analytics"
	"github.com/freeda-io/freeda/internal/config"
	"github.com/freeda-io/freeda/internal/hub"
	"github.com/freeda-io/freeda/internal/kb"
	"github.com/freeda-io/freeda/internal/logbuf"
	"github.com/freeda-io/freeda/internal/provider"
	"github.com/freeda-io/freeda/internal/ratelimit"
	"github.com/freeda-io/freeda/internal/reply"
	"github.com/freeda-io/freeda/internal/scheduler"
	"github.com/freeda-io/freeda/internal/server"
	"github.com/freeda-io/freeda/internal/store"
	"github.com/freeda-io/freeda/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logBuf := logbuf.NewRing(cfg.LogBuffer)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	logger.Info("freedad starting", "port", cfg.Server.Port)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Ticket store
	os.MkdirAll(cfg.Data.Dir, 0o755)
	dbPath := filepath.Join(cfg.Data.Dir, "freeda.db")
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("failed to open ticket store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// 2. Model provider (optional; canned replies work without one)
	var prov provider.Provider
	if cfg.Mistral.APIKey != "" {
		var opts []provider.MistralOption
		if cfg.Mistral.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(cfg.Mistral.BaseURL))
		}
		if cfg.Mistral.Model != "" {
			opts = append(opts, provider.WithModel(cfg.Mistral.Model))
		}
		prov = provider.NewMistral(cfg.Mistral.APIKey, opts...)
		logger.Info("provider initialized", "name", prov.Name(), "model", cfg.Mistral.Model)
	} else {
		logger.Warn("no mistral api key, running with canned replies only")
	}

	// 3. Knowledge base
	var base *kb.Base
	if cfg.Knowledge.Enabled {
		base = kb.New()
		if cfg.Knowledge.Dir != "" {
			if err := base.LoadDir(cfg.Knowledge.Dir); err != nil {
				logger.Error("failed to load knowledge dir", "dir", cfg.Knowledge.Dir, "error", err)
			}
		}
		for _, u := range cfg.Knowledge.URLs {
			fetchCtx, fetchCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := base.FetchURL(fetchCtx, u); err != nil {
				logger.Warn("failed to fetch knowledge page", "url", u, "error", err)
			}
			fetchCancel()
		}
		logger.Info("knowledge base loaded", "documents", base.Len())
	}

	responder := reply.NewResponder(prov, base, logger.With("component", "reply"))

	var analyzer *analytics.Analyzer
	if cfg.Analytics.Enabled {
		analyzer = analytics.New(prov, logger.With("component", "analytics"))
	}

	// 4. Push hub and rate limits
	pushHub := hub.New(logger.With("component", "hub"))
	ticketLimiter := ratelimit.New(cfg.RateLimit.TicketsPerHour, time.Hour)
	messageLimiter := ratelimit.New(cfg.RateLimit.MessagesPerMinute, time.Minute)

	// 5. Background jobs
	sched := scheduler.New(logger.With("component", "scheduler"))
	sched.Add("limiter-sweep", "@every 10m", func(context.Context) {
		ticketLimiter.Sweep()
		messageLimiter.Sweep()
	})
	if cfg.AutoClose.Enabled {
		idle := time.Duration(cfg.AutoClose.IdleHours) * time.Hour
		sched.Add("auto-close", cfg.AutoClose.Schedule, func(context.Context) {
			autoCloseIdle(st, pushHub, idle, logger)
		})
		logger.Info("auto-close enabled", "idle_hours", cfg.AutoClose.IdleHours, "schedule", cfg.AutoClose.Schedule)
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 6. HTTP + WebSocket server
	srv := server.New(server.Deps{
		Store:          st,
		Hub:            pushHub,
		Responder:      responder,
		Analyzer:       analyzer,
		TicketLimiter:  ticketLimiter,
		MessageLimiter: messageLimiter,
		Logs:           logBuf,
	}, server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AdminKey:       cfg.Server.AdminKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger.With("component", "server"))

	go safeGo(logger, "http-server", func() { srv.Start(ctx) })
	logger.Info("server started", "host", cfg.Server.Host, "port", cfg.Server.Port)

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	time.Sleep(200 * time.Millisecond) // let the listener drain
	logger.Info("freedad stopped")
}

// autoCloseIdle closes tickets with no activity for longer than idle and
// notifies any subscribed widgets.
func autoCloseIdle(st store.Store, pushHub *hub.Hub, idle time.Duration, logger *slog.Logger) {
	cutoff := time.Now().UTC().Add(-idle)
	stale, err := st.ListIdleOpen(cutoff)
	if err != nil {
		logger.Error("auto-close: list idle tickets", "error", err)
		return
	}
	for _, t := range stale {
		if err := st.UpdateStatus(t.ID, protocol.StatusClosed); err != nil {
			logger.Error("auto-close: close ticket", "ticket", t.ID, "error", err)
			continue
		}
		pushHub.Broadcast(t.ID, protocol.StatusFrame(protocol.StatusClosed))
		logger.Info("ticket auto-closed", "ticket", t.ID, "idle_since", t.UpdatedAt)
	}
	if len(stale) > 0 {
		logger.Info("auto-close sweep done", "closed", len(stale))
	}
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
