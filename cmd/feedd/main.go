package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotedesk/marketfeed/internal/config"
	"github.com/quotedesk/marketfeed/internal/database"
	"github.com/quotedesk/marketfeed/internal/delivery"
	"github.com/quotedesk/marketfeed/internal/emit"
	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/pull"
	"github.com/quotedesk/marketfeed/internal/push"
	"github.com/quotedesk/marketfeed/internal/recorder"
	"github.com/quotedesk/marketfeed/internal/scheduler"
	"github.com/quotedesk/marketfeed/internal/session"
	"github.com/quotedesk/marketfeed/internal/subscription"
	"github.com/quotedesk/marketfeed/internal/symbol"
	"github.com/quotedesk/marketfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feed.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"venue", cfg.Venue.Name,
		"broker_rest", cfg.Broker.RestURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Venue session calendar
	calendar := session.NewCalendar(logger)
	if err := calendar.AddVenue(cfg.Venue.Name, session.Hours{
		Timezone: cfg.Venue.Timezone,
		Open:     cfg.Venue.Open,
		Close:    cfg.Venue.Close,
		Holidays: cfg.Venue.Holidays,
	}); err != nil {
		logger.Error("failed to register venue hours", "error", err)
		os.Exit(1)
	}

	// Wire-symbol mapping
	norm := symbol.NewMapNormalizer(cfg.Venue.Name, cfg.Venue.SymbolPrefix, cfg.Venue.SymbolSuffix)

	// Optional tick store
	var pool *pgxpool.Pool
	var rec *recorder.TickRecorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to tick store",
			"host", cfg.Database.Timeseries.Host,
			"port", cfg.Database.Timeseries.Port,
			"database", cfg.Database.Timeseries.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database.Timeseries)
		if err != nil {
			logger.Error("failed to connect to tick store", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, pool, logger)

		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start tick recorder", "error", err)
			os.Exit(1)
		}
	}

	// Broker clients
	pullClient := pull.NewClient(
		cfg.Broker.RestURL,
		cfg.Broker.APIKey,
		pull.WithLogger(logger),
		pull.WithTimeout(cfg.Broker.Timeout),
		pull.WithRetries(cfg.Broker.MaxRetries, time.Second),
	)

	channel := push.NewChannel(push.ChannelConfig{
		URL:              cfg.Broker.WSURL,
		APIKey:           cfg.Broker.APIKey,
		HandshakeTimeout: cfg.Push.HandshakeTimeout,
		SubscribeTimeout: cfg.Push.SubscribeTimeout,
		WriteTimeout:     cfg.Push.WriteTimeout,
		PingInterval:     cfg.Push.PingInterval,
		PingTimeout:      cfg.Push.PingTimeout,
		EventBufferSize:  cfg.Push.EventBufferSize,
	}, norm, logger)

	// Core pipeline: registry -> scheduler/channel -> emitter -> sinks
	registry := subscription.NewRegistry()

	emitter := emit.NewEmitter(norm, logger)
	if err := emitter.Start(ctx); err != nil {
		logger.Error("failed to start emitter", "error", err)
		os.Exit(1)
	}

	var tickCount, depthCount atomic.Int64
	emitter.OnTick(func(tk model.Tick) {
		tickCount.Add(1)
		if rec != nil {
			rec.Record(tk)
		}
	})
	emitter.OnDepth(func(model.DepthSnapshot) {
		depthCount.Add(1)
	})

	fetcher := scheduler.New(scheduler.Config{
		RefreshInterval:   cfg.Pull.RefreshInterval,
		Debounce:          cfg.Pull.Debounce,
		BatchCap:          cfg.Pull.BatchCap,
		ChunkDelay:        cfg.Pull.ChunkDelay,
		RequestsPerSecond: cfg.Pull.RequestsPerSecond,
		RateLimitBackoff:  cfg.Pull.RateLimitBackoff,
		FetchTimeout:      cfg.Pull.FetchTimeout,
	}, pullClient, registry, emitter, norm, logger)
	if err := fetcher.Start(ctx); err != nil {
		logger.Error("failed to start batch fetcher", "error", err)
		os.Exit(1)
	}

	ctrl := delivery.New(delivery.Config{
		Venue:                cfg.Venue.Name,
		SessionCheckInterval: cfg.Delivery.SessionCheckInterval,
		ConnectTimeout:       cfg.Delivery.ConnectTimeout,
		CallTimeout:          cfg.Delivery.CallTimeout,
	}, registry, calendar, channel, fetcher, emitter, logger)
	if err := ctrl.Start(ctx); err != nil {
		logger.Error("failed to start delivery controller", "error", err)
		os.Exit(1)
	}

	// Health server
	healthServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(healthDeps{
			cfg:        cfg,
			ctrl:       ctrl,
			registry:   registry,
			calendar:   calendar,
			emitter:    emitter,
			pool:       pool,
			rec:        rec,
			tickCount:  &tickCount,
			depthCount: &depthCount,
		}, logger),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Subscribe the configured watchlist
	if len(cfg.Watchlist.Symbols) > 0 {
		keys := make([]symbol.Key, 0, len(cfg.Watchlist.Symbols))
		for _, s := range cfg.Watchlist.Symbols {
			keys = append(keys, symbol.New(cfg.Venue.Name, s))
		}
		ctrl.SubscribeBatch(keys, model.Detail(cfg.Watchlist.Detail))
		logger.Info("watchlist subscribed", "symbols", len(keys), "detail", cfg.Watchlist.Detail)
	}

	logger.Info("feedd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	ctrl.Shutdown(shutdownCtx)
	fetcher.Stop(shutdownCtx)
	emitter.Stop(shutdownCtx)
	if rec != nil {
		rec.Stop(shutdownCtx)
	}

	logger.Info("feedd stopped")
}

type healthDeps struct {
	cfg        *config.FeedConfig
	ctrl       *delivery.Controller
	registry   *subscription.Registry
	calendar   *session.Calendar
	emitter    *emit.Emitter
	pool       *pgxpool.Pool
	rec        *recorder.TickRecorder
	tickCount  *atomic.Int64
	depthCount *atomic.Int64
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(deps healthDeps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		st := deps.ctrl.Status()
		deliveryInfo := map[string]interface{}{
			"mode":          st.ModeLabel,
			"live":          st.Live,
			"subscriptions": st.Subscriptions,
			"session_open":  st.SessionOpen,
			"ticks":         deps.tickCount.Load(),
			"depth":         deps.depthCount.Load(),
		}
		if next, ok := deps.calendar.NextTransition(deps.cfg.Venue.Name, time.Now()); ok {
			deliveryInfo["next_session_transition"] = next.UTC().Format(time.RFC3339)
		}
		health.Components["delivery"] = deliveryInfo

		queue := deps.emitter.Stats()
		health.Components["emitter"] = map[string]interface{}{
			"depth":   queue.Depth,
			"pushed":  queue.Pushed,
			"popped":  queue.Popped,
			"resizes": queue.Resizes,
		}

		if deps.pool != nil {
			if err := deps.pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["tick_store"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["tick_store"] = "connected"
			}
		}
		if deps.rec != nil {
			stats := deps.rec.Stats()
			health.Components["recorder"] = map[string]interface{}{
				"inserts":   stats.Inserts,
				"conflicts": stats.Conflicts,
				"errors":    stats.Errors,
				"flushes":   stats.Flushes,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		entries := deps.registry.Entries()

		type entryView struct {
			ID           string `json:"id"`
			Key          string `json:"key"`
			Detail       string `json:"detail"`
			SubscribedAt string `json:"subscribed_at"`
		}

		views := make([]entryView, 0, len(entries))
		for _, e := range entries {
			views = append(views, entryView{
				ID:           e.ID.String(),
				Key:          e.Key.String(),
				Detail:       string(e.Detail),
				SubscribedAt: e.SubscribedAt.UTC().Format(time.RFC3339),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":         len(views),
			"subscriptions": views,
		})
	})

	return mux
}
