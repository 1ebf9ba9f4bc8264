package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"densityflow/alert"
	"densityflow/config"
	"densityflow/internal/channel"
	"densityflow/logger"
	"densityflow/orderbook"
	"densityflow/processor"
	"densityflow/reader/binance"
	"densityflow/settings"
	"densityflow/writer"
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

	log.WithFields(logger.Fields{
		"service": cfg.Densityflow.Name,
		"version": cfg.Densityflow.Version,
	}).Info("starting densityflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatchEnabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	channels := channel.NewChannels(
		cfg.Channels.RawBuffer,
		cfg.Channels.AlertBuffer,
		cfg.Channels.ErrorBuffer,
	)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)

	prioritySet := make(map[string]struct{}, len(cfg.Density.PrioritySymbols))
	for _, symbol := range cfg.Density.PrioritySymbols {
		prioritySet[strings.ToUpper(strings.TrimSpace(symbol))] = struct{}{}
	}
	settingsStore, err := settings.NewStore(settings.Settings{
		DistancePct:     cfg.Density.DistancePct,
		MinSizeUSD:      cfg.Density.MinSizeUSD,
		AlertsEnabled:   cfg.Density.AlertsEnabled,
		PrioritySymbols: prioritySet,
	})
	if err != nil {
		log.WithError(err).Error("failed to initialize settings store")
		os.Exit(1)
	}

	symbols := cfg.Symbols()
	books := orderbook.NewStore(symbols)
	dedup := alert.NewDeduplicator(alert.Config{
		PriceBucketPct: cfg.Dedup.PriceBucketPct,
		SizeStepFactor: cfg.Dedup.SizeStepFactor,
		Cooldown:       cfg.Dedup.Cooldown,
		IdleTTL:        cfg.Dedup.IdleTTL,
	})

	snapshotReader := binance.NewSnapshotReader(cfg, channels, symbols)
	deltaReader := binance.NewDeltaReader(cfg, channels, snapshotReader, symbols)
	scanner := processor.NewScanner(cfg, channels, books, settingsStore, dedup, snapshotReader)

	var telegramWriter *writer.TelegramWriter
	if cfg.Writer.Telegram.Enabled {
		telegramWriter = writer.NewTelegramWriter(cfg, channels)
	} else {
		log.WithComponent("main").Info("telegram delivery disabled; alerts will be logged only")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scanner.Start(ctx); err != nil {
			log.WithError(err).Warn("scanner failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := snapshotReader.Start(ctx); err != nil {
			log.WithError(err).Warn("snapshot reader failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := deltaReader.Start(ctx); err != nil {
			log.WithError(err).Warn("delta reader failed to start")
		}
	}()

	if telegramWriter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := telegramWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("telegram writer failed to start")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-channels.Errors:
		log.WithError(err).Error("fatal component error, shutting down")
		exitCode = 1
	}

	log.Info("starting graceful shutdown")
	cancel()

	if telegramWriter != nil {
		log.Info("stopping telegram writer")
		telegramWriter.Stop()
	}

	log.Info("stopping scanner")
	scanner.Stop()

	log.Info("stopping delta reader")
	deltaReader.Stop()

	log.Info("stopping snapshot reader")
	snapshotReader.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("densityflow stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
