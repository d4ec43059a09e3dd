package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kryptometer/config"
	"kryptometer/internal/alerts"
	"kryptometer/internal/channel"
	"kryptometer/internal/dashboard"
	"kryptometer/internal/metrics"
	"kryptometer/internal/portfolio"
	"kryptometer/internal/store"
	"kryptometer/internal/watchlist"
	"kryptometer/logger"
	"kryptometer/models"
	"kryptometer/processor"
	"kryptometer/reader/binance"
	"kryptometer/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.Logging.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Logging.CloudWatch.Region, cfg.Logging.CloudWatch.Namespace, cfg.Kryptometer.Name)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Kryptometer.Name,
		"version": cfg.Kryptometer.Version,
	}).Info("starting kryptometer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}

	st, err := store.New(cfg.Store.Directory)
	if err != nil {
		log.WithError(err).Error("failed to open state store")
		os.Exit(1)
	}

	symbols := loadWatchlist(st, cfg, log)
	registry, err := watchlist.NewRegistry(symbols)
	if err != nil {
		log.WithError(err).Error("invalid watchlist")
		os.Exit(1)
	}

	var savedAlerts []models.PriceAlert
	if err := st.Load(store.KeyAlerts, &savedAlerts); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Warn("failed to load saved alerts")
	}
	var holdings []models.PortfolioHolding
	if err := st.Load(store.KeyPortfolio, &holdings); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Warn("failed to load saved portfolio")
	}

	notifier := alerts.NewLogNotifier()
	if cfg.Alerts.WebhookURL != "" {
		notifier = alerts.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout)
	}
	evaluator := alerts.NewEvaluator(savedAlerts, notifier)
	book := portfolio.NewBook(holdings)

	channels := channel.NewChannels(
		cfg.Channels.SnapshotBuffer,
		cfg.Channels.TickBuffer,
		cfg.Channels.HistoryBuffer,
	)
	defer channels.Close()

	go channels.StartStatsReporting(ctx)

	snapshotReader := binance.NewSnapshotReader(cfg, channels)
	streamReader := binance.NewStreamReader(cfg, channels, registry.Symbols())

	var historyWriter *writer.HistoryWriter
	if cfg.History.Enabled {
		historyWriter, err = writer.NewHistoryWriter(cfg, channels)
		if err != nil {
			log.WithError(err).Error("failed to create history writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("tick history disabled; skipping writer")
	}

	engine := processor.NewEngine(cfg, channels, st, snapshotReader, streamReader, registry, evaluator, book)

	snapshotReader.Start(ctx)

	if err := streamReader.Start(ctx); err != nil {
		log.WithError(err).Error("feed reader failed to start")
		os.Exit(1)
	}

	if historyWriter != nil {
		if err := historyWriter.Start(ctx); err != nil {
			log.WithError(err).Error("history writer failed to start")
			os.Exit(1)
		}
	}

	if err := engine.Start(ctx); err != nil {
		log.WithError(err).Error("engine failed to start")
		os.Exit(1)
	}

	dash := dashboard.NewServer(cfg.Dashboard, log, engine, streamReader)
	var dashErr <-chan error
	if dash != nil {
		dashErr = runDashboard(ctx, dash, cfg.Kryptometer.Name)
		log.WithFields(logger.Fields{"address": dash.Address()}).Info("dashboard listening")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-dashErr:
		if err != nil {
			log.WithError(err).Error("dashboard server failed")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	engine.Stop()

	log.Info("stopping feed reader")
	streamReader.Stop()

	log.Info("stopping snapshot reader")
	snapshotReader.Stop()

	if historyWriter != nil {
		log.Info("stopping history writer")
		historyWriter.Stop()
	}

	if dash != nil {
		// runDashboard closes the channel after its single send, so this
		// drain returns even when the select above already consumed the
		// error.
		if err, ok := <-dashErr; ok && err != nil {
			log.WithError(err).Warn("dashboard shutdown error")
		}
	}

	log.Info("kryptometer stopped")
}

// runDashboard runs the dashboard server in the background. The returned
// channel carries the server's exit error and is closed after the single
// send, so draining it again during shutdown never blocks.
func runDashboard(ctx context.Context, dash *dashboard.Server, appName string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- dash.Run(ctx, appName)
		close(errCh)
	}()
	return errCh
}

// loadWatchlist prefers the persisted watchlist, then the configured one,
// then the built-in default.
func loadWatchlist(st *store.Store, cfg *config.Config, log *logger.Log) []string {
	var symbols []string
	err := st.Load(store.KeyWatchlist, &symbols)
	if err == nil && len(symbols) > 0 {
		return symbols
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Warn("failed to load saved watchlist")
	}
	if len(cfg.Watchlist.Symbols) > 0 {
		return cfg.Watchlist.Symbols
	}
	return config.DefaultSymbols
}
