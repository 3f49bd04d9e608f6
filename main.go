package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multi-exchange-trading-bot/config"
	"multi-exchange-trading-bot/internal/api"
	"multi-exchange-trading-bot/internal/bot"
	"multi-exchange-trading-bot/internal/circuit"
	"multi-exchange-trading-bot/internal/database"
	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/execution"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/logging"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/metrics"
	"multi-exchange-trading-bot/internal/report"
	"multi-exchange-trading-bot/internal/retry"
	"multi-exchange-trading-bot/internal/vault"
	"multi-exchange-trading-bot/internal/venue"
	"multi-exchange-trading-bot/internal/venue/binance"
	"multi-exchange-trading-bot/internal/venue/coinbase"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Default()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize structured logging
	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		MaxSizeMB:  cfg.LoggingConfig.MaxSizeMB,
		MaxBackups: cfg.LoggingConfig.MaxBackups,
		MaxAgeDays: cfg.LoggingConfig.MaxAgeDays,
		Service:    "trading-bot",
	})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	m := metrics.New()

	// Credentials come from Vault when enabled, else the environment
	creds, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize credential provider")
	}
	if creds.IsEnabled() {
		if err := creds.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("Vault unhealthy, falling back to environment credentials")
		}
	}

	registry := buildVenues(ctx, cfg, creds, logger)
	if len(registry.Venues()) == 0 || len(registry.Pairs()) == 0 {
		logger.Fatal().Msg("No venue passed the connectivity test")
	}

	table := make(map[string][]string)
	for _, pair := range registry.Pairs() {
		table[pair] = registry.VenuesFor(pair)
	}
	tradeLedger := ledger.New(table, logger)

	// Optional Redis mirror of open positions; restored on restart
	var mirror *database.PositionMirror
	mirrorCtx, mirrorCancel := context.WithCancel(context.Background())
	defer mirrorCancel()
	if cfg.RedisConfig.Enabled {
		client, err := database.NewRedisClient(ctx, cfg.RedisConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, mirroring positions in memory")
		}
		mirror = database.NewPositionMirror(client, logger)
		restorePositions(ctx, mirror, tradeLedger, table, logger)
		tradeLedger.SetObserver(mirror.Observe)
		go mirror.Run(mirrorCtx)
	}

	// Optional Postgres store for reports
	var store report.Store
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(ctx, cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Database unavailable, reports go to CSV only")
		} else {
			defer db.Close()
			if err := db.RunMigrations(ctx); err != nil {
				logger.Fatal().Err(err).Msg("Failed to run migrations")
			}
			if cfg.ReportConfig.ToDB {
				store = database.NewRepository(db)
			}
		}
	}

	policy := retry.FromConfig(cfg.RetryConfig)
	governor := circuit.NewGovernor(cfg.TradingConfig.SimulatedBalance, cfg.RiskConfig.CircuitBreakerThreshold, eventBus, logger)
	markers := marketdata.NewTradeMarkers(0)
	engine := execution.New(execution.SettingsFromConfig(cfg), execution.Deps{
		Ledger:   tradeLedger,
		Governor: governor,
		Markers:  markers,
		Policy:   policy,
		Bus:      eventBus,
		Metrics:  m,
	}, logger)

	tradingBot, err := bot.NewTradingBot(cfg, bot.Components{
		Registry: registry,
		Ledger:   tradeLedger,
		Governor: governor,
		Cache:    marketdata.NewCache(cfg.TradingConfig.CandleLimit, cfg.RiskConfig.PriceTTL),
		Markers:  markers,
		Fetcher:  marketdata.NewFetcher(policy, cfg.TradingConfig.Timeframe, cfg.TradingConfig.CandleLimit, logger),
		Executor: engine,
		Sink:     report.NewSink(cfg.ReportConfig.Directory, tradeLedger, store, eventBus, logger),
		Bus:      eventBus,
		Metrics:  m,
	}, engine.Mode(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize trading bot")
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, tradingBot, eventBus, m, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Fatal().Err(err).Msg("Failed to start web server")
			}
		}()
	}

	logger.Info().
		Str("mode", engine.Mode()).
		Bool("simulated_market", cfg.TradingConfig.SimulatedMarket).
		Float64("base_balance", cfg.TradingConfig.SimulatedBalance).
		Float64("loss_limit", cfg.CircuitLossLimit()).
		Msg("Starting multi-exchange trading bot")

	if err := tradingBot.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start bot")
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	timeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down web server")
		}
	}
	if err := tradingBot.Stop(); err != nil {
		logger.Error().Err(err).Msg("Final report failed")
	}
	cancel()

	// the bot is stopped; let the mirror write what the final flatten queued
	if mirror != nil {
		mirrorCancel()
		select {
		case <-mirror.Done():
		case <-time.After(database.MirrorDrainTimeout + time.Second):
			logger.Warn().Int("pending", mirror.Pending()).Msg("Position mirror drain timed out")
		}
	}

	logger.Info().Msg("Shutdown complete")
}

// buildVenues registers every enabled venue behind a rate limiter and breaker,
// then drops venues that fail the connectivity test.
func buildVenues(ctx context.Context, cfg *config.Config, creds *vault.Client, logger zerolog.Logger) *venue.Registry {
	registry := venue.NewRegistry(cfg.Pairs, logger)

	for _, id := range []string{venue.Binance, venue.Coinbase} {
		vc := venueConfig(cfg, id)
		if !vc.Enabled {
			registry.Remove(id)
			continue
		}

		var adapter venue.Adapter
		if cfg.TradingConfig.SimulatedMarket {
			adapter = venue.NewSimulated(venue.SizingFor(id),
				venue.Fees{Maker: vc.FeeRate, Taker: vc.FeeRate},
				venue.WithBalances(map[string]float64{vc.QuoteCurrency: cfg.TradingConfig.SimulatedBalance}))
		} else {
			c, err := creds.Credentials(ctx, id)
			if err != nil {
				evt := logger.Warn()
				if !cfg.TradingConfig.DryRun {
					evt = logger.Error()
				}
				evt.Err(err).Str("venue", id).Msg("No credentials, public market data only")
			}
			switch id {
			case venue.Binance:
				adapter = binance.NewClient(c.APIKey, c.SecretKey, vc.BaseURL, logger)
			case venue.Coinbase:
				adapter = coinbase.NewClient(coinbase.Credentials{
					KeyName:       c.KeyName,
					PrivateKeyPEM: c.PrivateKeyPEM,
					BearerToken:   c.BearerToken,
				}, vc.BaseURL, logger)
			}
		}

		guarded := venue.NewGuarded(id, adapter, venue.GuardSettings{
			RatePerSecond: vc.RateLimit,
			Burst:         vc.RateBurst,
			MaxFailures:   5,
			OpenTimeout:   30 * time.Second,
			OnStateChange: func(venueID, from, to string) {
				logger.Warn().Str("venue", venueID).Str("from", from).Str("to", to).Msg("Venue breaker state changed")
			},
		}, logger)
		registry.Register(venue.Handle{
			ID:            id,
			Adapter:       guarded,
			Sizing:        venue.SizingFor(id),
			QuoteCurrency: vc.QuoteCurrency,
		})
	}

	probe := ""
	if pairs := registry.Pairs(); len(pairs) > 0 {
		probe = pairs[0]
	}
	testCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	registry.TestConnectivity(testCtx, probe, cfg.TradingConfig.Timeframe)
	return registry
}

func venueConfig(cfg *config.Config, id string) config.VenueConfig {
	if id == venue.Coinbase {
		return cfg.VenueConfigs.Coinbase
	}
	return cfg.VenueConfigs.Binance
}

// restorePositions reopens holdings mirrored before the last shutdown
func restorePositions(ctx context.Context, mirror *database.PositionMirror, l *ledger.Ledger, table map[string][]string, logger zerolog.Logger) {
	for pair, venues := range table {
		for _, v := range venues {
			p, ok, err := mirror.Load(ctx, pair, v)
			if err != nil {
				logger.Warn().Err(err).Str("pair", pair).Str("venue", v).Msg("Failed to load mirrored position")
				continue
			}
			if !ok || !p.Holding {
				continue
			}
			if err := l.OpenPosition(pair, v, p.Amount, p.EntryPrice); err != nil && !errors.Is(err, ledger.ErrAlreadyHolding) {
				logger.Warn().Err(err).Str("pair", pair).Str("venue", v).Msg("Failed to restore position")
				continue
			}
			logger.Info().Str("pair", pair).Str("venue", v).Float64("amount", p.Amount).
				Float64("entry_price", p.EntryPrice).Msg("Position restored from mirror")
		}
	}
}
