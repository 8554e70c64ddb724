package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/pricewatch/internal/api"
	"github.com/rewired-gh/pricewatch/internal/binance"
	"github.com/rewired-gh/pricewatch/internal/config"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/monitor"
	"github.com/rewired-gh/pricewatch/internal/notify"
	"github.com/rewired-gh/pricewatch/internal/storage"
	"github.com/rewired-gh/pricewatch/internal/storage/mongostore"
	"github.com/rewired-gh/pricewatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file (empty for defaults and environment only)")

// store is what every persistence backend provides.
type store interface {
	monitor.PriceStore
	monitor.AlertStore
	api.AlertStore
	Close() error
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	logger.Info("Storage ready (driver: %s)", cfg.Storage.Driver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var telegramClient *telegram.Client
	senders := notify.MultiSender{notify.LogSender{}}
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		senders = append(senders, telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	dispatcher := notify.NewDispatcher(senders, cfg.Notify.QueueSize, cfg.Notify.Workers, reg)
	dispatcher.Start(ctx)

	var hub *api.Hub
	var publisher monitor.Publisher
	if cfg.API.Enabled {
		hub = api.NewHub()
		publisher = hub
	}

	metrics := monitor.NewMetrics(reg)
	matcher := monitor.NewAlertMatcher(st, dispatcher, metrics)
	ingestor := monitor.NewPriceIngestor(
		binance.NewClient(cfg.Binance.BaseURL, cfg.Binance.Timeout),
		st,
		monitor.NewPriceCache(),
		matcher,
		publisher,
		metrics,
	)
	orchestrator := monitor.NewFetchOrchestrator(monitor.Config{
		Symbols:      cfg.Binance.Symbols,
		Concurrency:  cfg.Concurrency(),
		Period:       cfg.Scheduler.Period,
		InitialDelay: cfg.Scheduler.InitialDelay,
	}, ingestor, metrics)

	health := &cycleHealth{telegram: telegramClient}
	orchestrator.OnCycle(health.observe)

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, ingestor)
	}

	var wg sync.WaitGroup
	if cfg.API.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := api.NewRouter(st, ingestor, hub, reg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Serve(ctx, cfg.API.ListenAddr, router); err != nil {
				logger.Error("HTTP API failed: %v", err)
				stop()
			}
		}()
	}

	logger.Info("Starting price watcher (symbols: %d, period: %v, initial delay: %v, concurrency: %d)",
		len(cfg.Binance.Symbols),
		cfg.Scheduler.Period,
		cfg.Scheduler.InitialDelay,
		cfg.Concurrency(),
	)

	orchestrator.Run(ctx)

	logger.Info("Shutdown signal received, cleaning up...")
	if hub != nil {
		hub.Close()
	}
	wg.Wait()
	dispatcher.Close()
	logger.Info("Service stopped")
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store, error) {
	switch cfg.Driver {
	case "mongo":
		s, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	case storage.DriverPostgres:
		s, err := storage.New(storage.DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := storage.New(storage.DriverSQLite, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// cycleHealth tracks whole-cycle outages, when every symbol fails, and
// reports the first failure and the recovery to Telegram.
type cycleHealth struct {
	telegram *telegram.Client

	mu                  sync.Mutex
	consecutiveFailures int
}

func (h *cycleHealth) observe(res monitor.CycleResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if res.AllFailed() {
		h.consecutiveFailures++
		logger.Error("Fetch cycle failed for all %d symbols: %v", res.Symbols, res.Err)
		if h.consecutiveFailures == 1 && h.telegram != nil {
			if err := h.telegram.SendOutage(res.Err); err != nil {
				logger.Warn("Failed to send outage notification to Telegram: %v", err)
			}
		}
		return
	}

	if res.Failures > 0 {
		logger.Warn("Fetch cycle finished with %d/%d symbols failed", res.Failures, res.Symbols)
	}
	if h.consecutiveFailures > 0 {
		logger.Info("Price feed recovered after %d failed cycles", h.consecutiveFailures)
		if h.telegram != nil {
			if err := h.telegram.SendRecovery(h.consecutiveFailures); err != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", err)
			}
		}
	}
	h.consecutiveFailures = 0
}
