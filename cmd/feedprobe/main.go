// feedprobe runs the full delivery pipeline against a live broker and prints
// normalized ticks to the console.
// Usage: go run ./cmd/feedprobe --config configs/feed.local.yaml --symbols AAPL,MSFT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quotedesk/marketfeed/internal/config"
	"github.com/quotedesk/marketfeed/internal/delivery"
	"github.com/quotedesk/marketfeed/internal/emit"
	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/pull"
	"github.com/quotedesk/marketfeed/internal/push"
	"github.com/quotedesk/marketfeed/internal/scheduler"
	"github.com/quotedesk/marketfeed/internal/session"
	"github.com/quotedesk/marketfeed/internal/subscription"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

func main() {
	configPath := flag.String("config", "configs/feed.local.yaml", "path to config file")
	symbols := flag.String("symbols", "", "comma-separated symbols to watch (overrides watchlist)")
	depth := flag.Bool("depth", false, "request order-book depth as well")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	watch := cfg.Watchlist.Symbols
	if *symbols != "" {
		watch = strings.Split(*symbols, ",")
	}
	if len(watch) == 0 {
		logger.Error("no symbols to watch; set --symbols or watchlist.symbols")
		os.Exit(1)
	}

	detail := model.DetailQuote
	if *depth {
		detail = model.DetailQuoteDepth
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

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

	norm := symbol.NewMapNormalizer(cfg.Venue.Name, cfg.Venue.SymbolPrefix, cfg.Venue.SymbolSuffix)

	pullClient := pull.NewClient(
		cfg.Broker.RestURL,
		cfg.Broker.APIKey,
		pull.WithLogger(logger),
		pull.WithTimeout(cfg.Broker.Timeout),
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

	registry := subscription.NewRegistry()

	emitter := emit.NewEmitter(norm, logger)
	if err := emitter.Start(ctx); err != nil {
		logger.Error("failed to start emitter", "error", err)
		os.Exit(1)
	}

	emitter.OnTick(func(tk model.Tick) {
		if *verbose {
			out, _ := json.Marshal(tk)
			fmt.Println(string(out))
			return
		}
		fmt.Printf("%s  %-18s last=%.4f bid=%.4f ask=%.4f vol=%d [%s]\n",
			time.UnixMicro(tk.ReceivedAt).Format("15:04:05.000"),
			tk.Key.String(), tk.LastPrice, tk.Bid, tk.Ask, tk.Volume, tk.Source)
	})
	emitter.OnDepth(func(d model.DepthSnapshot) {
		fmt.Printf("%s  %-18s depth bids=%d asks=%d [%s]\n",
			time.UnixMicro(d.ReceivedAt).Format("15:04:05.000"),
			d.Key.String(), len(d.Bids), len(d.Asks), d.Source)
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

	keys := make([]symbol.Key, 0, len(watch))
	for _, s := range watch {
		keys = append(keys, symbol.New(cfg.Venue.Name, strings.TrimSpace(s)))
	}
	ctrl.SubscribeBatch(keys, detail)

	logger.Info("probe running",
		"venue", cfg.Venue.Name,
		"symbols", len(keys),
		"detail", string(detail),
	)

	// Periodic mode line so transitions are visible in the stream.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := ctrl.Status()
				fmt.Printf("-- mode=%s live=%t subs=%d session_open=%t\n",
					st.ModeLabel, st.Live, st.Subscriptions, st.SessionOpen)
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	ctrl.Shutdown(shutdownCtx)
	fetcher.Stop(shutdownCtx)
	emitter.Stop(shutdownCtx)

	logger.Info("probe stopped")
}
