package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/bot"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/config"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/feed"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/httpapi"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/observability"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/scheduler"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/settings"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/status"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/tasks"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, storeMode, err := tasks.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("task store init failed")
	}
	defer store.Close()
	log.Info().Str("mode", storeMode).Msg("task store ready")

	session := bot.NewMockSession(cfg.BotAccount)
	settingsStore := settings.NewStore(cfg.APIKey, cfg.ManagementGroups, nil)

	registry := tasks.NewRegistry(store, session, log.Logger, metrics)
	liveFeed := feed.New(log.Logger, metrics)
	aggregator := status.NewAggregator(session, registry, settingsStore, liveFeed, cfg.StatusInterval, log.Logger, metrics)
	registry.SetNotifier(aggregator.Notify)

	// Duplicate rows can survive a crash between check and insert on older
	// data sets; repair once before serving traffic.
	if report, err := registry.ReconcileDuplicates(ctx); err != nil {
		log.Fatal().Err(err).Msg("duplicate reconciliation failed")
	} else if len(report.Actions) > 0 {
		log.Warn().Int("archived", len(report.Actions)).Msg("archived duplicate tasks at startup")
	}

	go aggregator.Run(ctx)
	go scheduler.New(registry, cfg.ScheduleInterval, log.Logger).Run(ctx)

	api := httpapi.New(cfg, registry, aggregator, liveFeed, settingsStore, storeMode, log.Logger)
	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("dashboard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, cancelTimeout := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelTimeout()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
