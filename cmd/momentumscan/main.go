package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/momentumscan/internal/config"
	"github.com/rewired-gh/momentumscan/internal/logger"
	"github.com/rewired-gh/momentumscan/internal/marketdata"
	"github.com/rewired-gh/momentumscan/internal/models"
	"github.com/rewired-gh/momentumscan/internal/monitor"
	"github.com/rewired-gh/momentumscan/internal/notify"
	"github.com/rewired-gh/momentumscan/internal/retry"
	"github.com/rewired-gh/momentumscan/internal/scheduler"
	"github.com/rewired-gh/momentumscan/internal/server"
	"github.com/rewired-gh/momentumscan/internal/smartapi"
	"github.com/rewired-gh/momentumscan/internal/storage"
	"github.com/rewired-gh/momentumscan/internal/telegram"
	"github.com/rewired-gh/momentumscan/internal/universe"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	envPath    = flag.String("env", ".env", "Optional dotenv file with credentials")
)

func main() {
	flag.Parse()

	// Credentials usually live in .env; a missing file is fine.
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load %s: %v", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := smartapi.NewClient(smartapi.ClientConfig{
		BaseURL:        cfg.SmartAPI.BaseURL,
		APIKey:         cfg.SmartAPI.APIKey,
		Timeout:        cfg.SmartAPI.Timeout,
		RequestsPerSec: cfg.SmartAPI.RequestsPerSec,
		Burst:          cfg.SmartAPI.Burst,
		ClientLocalIP:  cfg.SmartAPI.ClientLocalIP,
		ClientPublicIP: cfg.SmartAPI.ClientPublicIP,
		MACAddress:     cfg.SmartAPI.MACAddress,
	})
	if cfg.SmartAPI.JWTToken != "" {
		api.SetToken(cfg.SmartAPI.JWTToken)
		logger.Info("Using configured SmartAPI session token")
	} else {
		if _, err := api.Login(ctx, cfg.SmartAPI.ClientCode, cfg.SmartAPI.Password, cfg.SmartAPI.TOTP); err != nil {
			logger.Fatal("Failed to log in to SmartAPI: %v", err)
		}
		logger.Info("Logged in to SmartAPI as %s", cfg.SmartAPI.ClientCode)
	}

	mode := cfg.Mode()
	interval := cfg.Interval()

	resolver := universe.NewResolver(api, api, universe.Config{
		Target:     cfg.Target(),
		TopN:       cfg.Scanner.TopN,
		ExpiryType: cfg.Scanner.ExpiryType,
	})
	poller := marketdata.NewPoller(api, api, marketdata.Config{
		Interval:    interval,
		Period:      cfg.Strategy.Period,
		Buffer:      cfg.Scanner.LookbackBuffer,
		MaxInFlight: cfg.Scanner.MaxInFlight,
	})
	engine := monitor.New(monitor.Config{
		Mode:             mode,
		Period:           cfg.Strategy.Period,
		ThresholdPercent: cfg.Strategy.ThresholdPercent,
	})

	// Interface values stay untyped nil when a component is disabled.
	var (
		journal     scheduler.Journal
		alertLister server.AlertLister
		store       *storage.Storage
	)
	if cfg.Journal.Enabled {
		store, err = storage.New(cfg.Journal.MaxAlerts, cfg.Journal.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize alert journal: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close alert journal: %v", err)
			}
		}()
		if n, err := store.CountAlerts(); err != nil {
			logger.Warn("Failed to count journaled alerts: %v", err)
		} else {
			logger.Info("Alert journal opened (%d alerts on record)", n)
		}
		journal = store
		alertLister = store
	} else {
		logger.Debug("Alert journal disabled")
	}

	var (
		messenger      notify.Messenger
		telegramClient *telegram.Client
	)
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.AdminChatID)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		messenger = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// The attempt budget stays at the default of 3; only the pacing is configurable.
	policy := retry.DefaultPolicy()
	policy.BaseDelay = cfg.Telegram.RetryDelayBase
	policy.Multiplier = cfg.Telegram.BackoffMultiplier

	dispatcher := notify.NewDispatcher(messenger, telegram.FormatAlert, notify.Config{
		Destination: cfg.Telegram.ChatID,
		Policy:      policy,
		OnDelivered: func(event models.AlertEvent) {
			if store == nil {
				return
			}
			if err := store.MarkNotified(event.ID); err != nil {
				logger.Warn("Failed to mark alert %s as notified: %v", event.ID, err)
			}
		},
	})

	sched := scheduler.New(resolver, poller, engine, dispatcher, journal, scheduler.Config{
		RefreshInterval: cfg.Scanner.RefreshInterval,
		DataInterval:    cfg.Scanner.DataInterval,
		WithBars:        mode.NeedsBars(),
		Notices: scheduler.Notices{
			Custom:   telegram.FormatCustom,
			Error:    telegram.FormatError,
			Recovery: telegram.FormatRecovery,
		},
	})

	var apiServer *server.Server
	if cfg.Server.Enabled {
		apiServer, err = server.New(server.Config{Addr: cfg.Server.Addr}, sched, alertLister)
		if err != nil {
			logger.Fatal("Failed to initialize status API: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	strategy := engine.Config()
	logger.Info("Starting momentum scanner (target: %s, mode: %s, interval: %s, period: %d, threshold: %.2f%%, top_n: %d)",
		cfg.Target(), strategy.Mode, interval, strategy.Period, strategy.ThresholdPercent, cfg.Scanner.TopN)

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler: %v", err)
	}

	if telegramClient != nil {
		welcome := telegram.FormatWelcome(telegram.WelcomeInfo{
			Target:          cfg.Target(),
			Mode:            string(strategy.Mode),
			Interval:        interval,
			Period:          strategy.Period,
			ThresholdPct:    strategy.ThresholdPercent,
			TopN:            cfg.Scanner.TopN,
			RefreshInterval: cfg.Scanner.RefreshInterval,
			DataInterval:    cfg.Scanner.DataInterval,
		})
		if err := dispatcher.Send(ctx, welcome); err != nil {
			logger.Warn("Failed to send welcome message: %v", err)
		}
		if cfg.Telegram.Commands {
			telegramClient.ListenForCommands(ctx, sched)
		}
	}

	if apiServer != nil {
		apiServer.Start()
	}

	<-sigChan
	logger.Info("Shutdown signal received, cleaning up...")

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Status API shutdown: %v", err)
		}
		shutdownCancel()
	}

	sched.Stop()
	cancel()

	stats := dispatcher.Stats()
	logger.Info("Service stopped (delivered: %d, failed: %d, skipped: %d)", stats.Delivered, stats.Failed, stats.Skipped)
}
