package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"alpaca-trading-bot/config"
	"alpaca-trading-bot/internal/alpaca"
	"alpaca-trading-bot/internal/bot"
	"alpaca-trading-bot/internal/database"
	"alpaca-trading-bot/internal/events"
	"alpaca-trading-bot/internal/logging"
	"alpaca-trading-bot/internal/orders"
	"alpaca-trading-bot/internal/resilience"
	"alpaca-trading-bot/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Msg("Logging initialized")

	eventBus := events.NewEventBus()

	// Only the mock broker is wired here; a live Alpaca connection plugs in
	// behind the same interface.
	var client alpaca.Client
	if cfg.AlpacaConfig.MockMode {
		client = alpaca.NewMockClient()
		logger.Info().Msg("Using simulated broker")
	} else {
		logger.Fatal().Msg("Live broker connection not configured, set alpaca.mock_mode")
	}

	guard := resilience.NewGuard(logger, resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())

	// Trade history persistence is optional
	var tradeLog orders.TradeLog
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
			logger.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.RunMigrations(ctx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("Migrations failed")
		}
		cancel()

		tradeLog = database.NewTradeLogger(database.NewRepository(db))
		logger.Info().Msg("Trade history enabled")
	}

	// Lifecycle state persistence is optional; the broker remains the
	// source of truth at startup
	var stateStore orders.StateStore
	if cfg.RedisConfig.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		stateStore = database.NewRedisStateStore(redisClient, logger)
	}

	lifecycle := orders.NewManager(logger, eventBus, stateStore, tradeLog)
	analyzer := strategy.NewAnalyzer(logger, client, guard, strategy.DefaultLevelConfig())

	b := bot.New(cfg, logger, client, guard, analyzer, lifecycle, eventBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Bot failed to start")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	b.Stop()
}
