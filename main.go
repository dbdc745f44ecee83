package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"exit-watchdog/config"
	"exit-watchdog/internal/api"
	"exit-watchdog/internal/auth"
	"exit-watchdog/internal/broker"
	"exit-watchdog/internal/database"
	"exit-watchdog/internal/dispatch"
	"exit-watchdog/internal/events"
	"exit-watchdog/internal/logging"
	"exit-watchdog/internal/notification"
	"exit-watchdog/internal/position"
	sigeval "exit-watchdog/internal/signal"
	"exit-watchdog/internal/ticksize"
	"exit-watchdog/internal/vault"
	"exit-watchdog/internal/watchdog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Msg("exit watchdog starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event bus and notifications
	bus := events.NewBus()
	if cfg.NotificationConfig.Enabled {
		notifyManager := notification.NewManager(logger)
		if cfg.NotificationConfig.Telegram.Enabled {
			notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: cfg.NotificationConfig.Telegram.BotToken,
				ChatID:   cfg.NotificationConfig.Telegram.ChatID,
				Enabled:  true,
			}))
			logger.Info().Msg("Telegram notifications enabled")
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
				Enabled:    true,
			}))
			logger.Info().Msg("Discord notifications enabled")
		}
		notifyManager.SubscribeTo(bus)
	}

	// Broker credentials, Vault first when enabled
	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		MountPath:  cfg.VaultConfig.MountPath,
		SecretPath: cfg.VaultConfig.SecretPath,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("vault client init failed")
	}
	creds, err := vaultClient.FetchCredentials(ctx, vault.Credentials{
		APIKey:    cfg.BrokerConfig.APIKey,
		SecretKey: cfg.BrokerConfig.SecretKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("broker credentials unavailable")
	}

	// Broker gateway
	var market broker.MarketDataClient
	var exec broker.ExecutionClient
	if cfg.BrokerConfig.MockMode {
		mock := broker.NewMockClient()
		market, exec = mock, mock
		logger.Warn().Msg("MOCK MODE: no real orders will be placed")
	} else {
		client := broker.NewClient(creds.APIKey, creds.SecretKey, cfg.BrokerConfig.BaseURL,
			time.Duration(cfg.BrokerConfig.TimeoutS)*time.Second)
		market, exec = client, client
	}

	// Postgres journal (optional)
	var repo *database.Repository
	var journal dispatch.Journal
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("database migrations failed")
		}
		repo = database.NewRepository(db)
		repo.SubscribeTo(bus)
		journal = repo
		logger.Info().Msg("order journal enabled")
	}

	// Redis risk snapshots (optional, degrades to in-memory)
	var riskRepo *database.RiskStateRepository
	if cfg.RedisConfig.Enabled {
		riskRepo = database.NewRiskStateRepository(database.RedisConfig{
			Enabled:  true,
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		}, logger)
	}

	// Core monitoring pipeline
	store := position.NewStore(logger)
	ticks := ticksize.NewResolver(exec, cfg.WatchdogConfig.Exchange, nil, logger)
	reconciler := position.NewReconciler(store, exec, market, bus,
		cfg.WatchdogConfig.Exchange, cfg.WatchdogConfig.ProductType, logger)
	// Config carries the loss limit in percent; the evaluator wants a fraction.
	evaluator := sigeval.NewEvaluator(store, bus, sigeval.Config{
		LossThresholdPct:      cfg.RiskConfig.LossThresholdPct / 100,
		VSRDeteriorationRatio: cfg.RiskConfig.VSRDeteriorationRatio,
		ProfitTargetsEnabled:  cfg.RiskConfig.ProfitTargetsEnabled,
	}, logger)
	dispatcher := dispatch.NewDispatcher(exec, ticks, store, bus, journal, dispatch.Config{
		QueueSize:    cfg.DispatchConfig.QueueSize,
		MaxRetries:   cfg.DispatchConfig.MaxRetries,
		RetryBackoff: cfg.DispatchConfig.RetryBackoff,
		DrainGrace:   cfg.DispatchConfig.DrainGrace,
	}, logger)

	// Websocket price stream (optional, REST quotes otherwise)
	var stream *broker.TickerStream
	if cfg.WatchdogConfig.StreamEnabled && !cfg.BrokerConfig.MockMode && cfg.BrokerConfig.WSURL != "" {
		stream = broker.NewTickerStream(cfg.BrokerConfig.WSURL, creds.APIKey,
			time.Duration(cfg.WatchdogConfig.StreamMaxAgeS)*time.Second, logger)
		go stream.Run(ctx)
	}

	calendar, err := watchdog.NewCalendar()
	if err != nil {
		logger.Fatal().Err(err).Msg("exchange timezone unavailable")
	}

	wd := watchdog.New(watchdog.Config{
		PollInterval:      cfg.WatchdogConfig.PollInterval,
		ReconcileInterval: cfg.WatchdogConfig.ReconcileInterval,
		SummaryInterval:   cfg.WatchdogConfig.SummaryInterval,
		OffHoursIdle:      cfg.WatchdogConfig.OffHoursIdle,
		ManifestPath:      cfg.WatchdogConfig.ManifestPath,
		Exchange:          cfg.WatchdogConfig.Exchange,
		ProductType:       cfg.WatchdogConfig.ProductType,
		IgnoreMarketHours: cfg.WatchdogConfig.IgnoreMarketHours,
	}, calendar, store, market, stream, reconciler, evaluator, dispatcher, ticks, riskRepo, bus, logger)

	// Dashboard API (optional)
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		var authSvc *auth.Service
		if cfg.AuthConfig.Enabled {
			authSvc = auth.NewService(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.PasswordHash, cfg.AuthConfig.TokenDuration)
		}
		server = api.NewServer(store, repo, authSvc, api.Config{
			Port:        cfg.ServerConfig.Port,
			AuthEnabled: cfg.AuthConfig.Enabled,
		}, logger)
		server.Start()
	}

	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispatcherDone)
	}()

	if err := wd.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("watchdog exited with error")
	}

	// The dispatcher drains already-queued orders inside Run when ctx ends;
	// wait for it so exiting main cannot abandon a queued order mid-drain.
	<-dispatcherDone

	// Give the API server a bounded window to finish open requests.
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("API server shutdown error")
		}
	}
	logger.Info().Msg("exit watchdog stopped")
}
