// Package bot owns the control loop: it refreshes market data, runs the
// strategies, evaluates the risk governor and schedules reports.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"multi-exchange-trading-bot/config"
	"multi-exchange-trading-bot/internal/circuit"
	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/metrics"
	"multi-exchange-trading-bot/internal/report"
	"multi-exchange-trading-bot/internal/strategy"
	"multi-exchange-trading-bot/internal/venue"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning = errors.New("bot already running")
	ErrMissingDeps    = errors.New("bot dependencies incomplete")
)

const reportTimeout = 30 * time.Second

// Components are the collaborators wired by main
type Components struct {
	Registry *venue.Registry
	Ledger   *ledger.Ledger
	Governor *circuit.Governor
	Cache    *marketdata.Cache
	Markers  *marketdata.TradeMarkers
	Fetcher  *marketdata.Fetcher
	Executor strategy.Executor
	Sink     *report.Sink
	Bus      *events.EventBus
	Metrics  *metrics.Metrics
}

// TradingBot runs the single control loop
type TradingBot struct {
	cfg    *config.Config
	c      Components
	logger zerolog.Logger
	mode   string

	arbitrage  *strategy.Arbitrage
	scalping   *strategy.Scalping
	triangular *strategy.Triangular
	manual     *strategy.Manual

	// tickMu serializes ticks and operator actions
	tickMu sync.Mutex

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	lastTick  time.Time
	lastDur   time.Duration
	tickCount int64

	cancel   context.CancelFunc
	cron     *cron.Cron
	wg       sync.WaitGroup
	stopping bool

	now func() time.Time
}

// NewTradingBot builds the strategies over the registered venues
func NewTradingBot(cfg *config.Config, c Components, mode string, logger zerolog.Logger) (*TradingBot, error) {
	if c.Registry == nil || c.Ledger == nil || c.Governor == nil || c.Cache == nil || c.Fetcher == nil || c.Executor == nil {
		return nil, ErrMissingDeps
	}
	if c.Markers == nil {
		c.Markers = marketdata.NewTradeMarkers(0)
	}

	b := &TradingBot{
		cfg:    cfg,
		c:      c,
		logger: logger.With().Str("component", "bot").Logger(),
		mode:   mode,
		now:    time.Now,
	}

	deps := strategy.Deps{
		Registry: c.Registry,
		Ledger:   c.Ledger,
		Governor: c.Governor,
		Cache:    c.Cache,
		Executor: c.Executor,
		Sizer:    strategy.NewSizer(cfg.TradingConfig),
		Logger:   logger,
	}
	sc := cfg.StrategyConfig

	if sc.ArbitrageEnabled {
		primary, secondary := b.arbitrageVenues()
		if secondary == "" {
			b.logger.Warn().Str("primary", primary).Strs("venues", c.Registry.Venues()).
				Msg("Arbitrage disabled: needs two registered venues")
		} else {
			b.arbitrage = strategy.NewArbitrage(deps, sc.CrossArbitrageThreshold, primary, secondary)
		}
	}
	if sc.ScalpingEnabled {
		if _, ok := c.Registry.Handle(cfg.TradingConfig.ScalpingVenue); ok {
			b.scalping = strategy.NewScalping(deps, cfg.TradingConfig.ScalpingVenue, sc.SMAFast, sc.SMASlow)
		} else {
			b.logger.Warn().Str("venue", cfg.TradingConfig.ScalpingVenue).Msg("Scalping disabled: venue not registered")
		}
	}
	b.triangular = strategy.NewTriangular(deps, sc.TriangularThreshold)
	b.manual = strategy.NewManual(deps)

	c.Governor.OnTrip(func(reason string) {
		c.Metrics.SetPaused(true)
		b.logger.Warn().Str("reason", reason).Msg("Circuit breaker tripped, trading paused until resumed")
	})
	c.Governor.OnResume(func() { c.Metrics.SetPaused(false) })

	return b, nil
}

// arbitrageVenues picks the configured primary and the first other registered venue
func (b *TradingBot) arbitrageVenues() (string, string) {
	primary := b.cfg.TradingConfig.PrimaryArbitrageSide
	venues := b.c.Registry.Venues()
	if _, ok := b.c.Registry.Handle(primary); !ok {
		if len(venues) == 0 {
			return primary, ""
		}
		primary = venues[0]
	}
	for _, v := range venues {
		if v != primary {
			return primary, v
		}
	}
	return primary, ""
}

// Start launches the control loop and the report schedule
func (b *TradingBot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}

	schedule := b.cfg.ReportConfig.Schedule
	if schedule == "" {
		schedule = "@every 1h"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { b.flush(report.ReasonScheduled) }); err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.cron = c
	b.running = true
	b.startedAt = b.now()

	c.Start()
	b.wg.Add(1)
	go b.run(loopCtx)

	b.logger.Info().
		Str("mode", b.mode).
		Strs("pairs", b.c.Registry.Pairs()).
		Strs("venues", b.c.Registry.Venues()).
		Bool("arbitrage", b.arbitrage != nil).
		Bool("scalping", b.scalping != nil).
		Str("report_schedule", schedule).
		Msg("Trading bot started")
	b.c.Bus.Publish(events.Event{Type: events.EventBotStarted, Data: map[string]interface{}{
		"mode": b.mode, "pairs": b.c.Registry.Pairs(), "venues": b.c.Registry.Venues(),
	}})
	return nil
}

func (b *TradingBot) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		b.Tick(ctx)

		timer := time.NewTimer(b.interval())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// interval stays at the warmup value until more than WarmupTrades trades completed
func (b *TradingBot) interval() time.Duration {
	lc := b.cfg.LoopConfig
	if b.c.Ledger.TradeCount() > lc.WarmupTrades || lc.WarmupInterval <= 0 {
		return lc.Interval
	}
	return lc.WarmupInterval
}

// Stop ends the loop after the in-flight tick, stops the schedule and writes the final report
func (b *TradingBot) Stop() error {
	// one Stop per Start does the work; concurrent calls return at once
	b.mu.Lock()
	if !b.running || b.stopping {
		b.mu.Unlock()
		return nil
	}
	b.stopping = true
	cancel, c := b.cancel, b.cron
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping trading bot")
	cancel()
	b.wg.Wait()
	<-c.Stop().Done()

	_, err := b.flush(report.ReasonStop)

	b.mu.Lock()
	b.running = false
	b.stopping = false
	b.mu.Unlock()

	prof := b.c.Ledger.Profit()
	b.c.Bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{
		"total_profit": prof.TotalProfit, "trade_count": prof.TradeCount,
	}})
	b.logger.Info().Float64("total_profit", prof.TotalProfit).Int("trade_count", prof.TradeCount).
		Msg("Trading bot stopped")
	return err
}

// flush writes a report of the drained trades when a sink is configured
func (b *TradingBot) flush(reason string) (*report.Report, error) {
	if b.c.Sink == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	r, err := b.c.Sink.Flush(ctx, reason)
	if err != nil {
		b.c.Bus.PublishError("report", "report flush failed", err)
	}
	return r, err
}
