// Package execution turns trade intents into fills, simulated or live, and
// records them in the ledger.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/config"
	"multi-exchange-trading-bot/internal/circuit"
	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/logging"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/metrics"
	"multi-exchange-trading-bot/internal/retry"
	"multi-exchange-trading-bot/internal/venue"
)

// Signal is the side of an intent
type Signal string

const (
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
)

// Execution modes
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// TradeTypeStopLoss replaces the caller's trade type when a SELL breaches the stop
const TradeTypeStopLoss = "Stop-Loss"

var (
	ErrPaused              = errors.New("trading paused")
	ErrVenueUnavailable    = errors.New("venue not initialized")
	ErrInvalidIntent       = errors.New("invalid trade intent")
	ErrInsufficientBalance = errors.New("insufficient quote balance")
	ErrBalanceCheck        = errors.New("balance check failed")
	ErrSimulatedFailure    = errors.New("simulated network error")
	ErrUnprofitable        = errors.New("expected profit below cost")
	ErrOrderFailed         = errors.New("order failed")
	ErrCircuitTripped      = errors.New("circuit breaker tripped")
)

// Intent is a request to trade one pair on one venue
type Intent struct {
	Venue     venue.Handle
	Signal    Signal
	Price     float64
	Amount    float64
	Symbol    string
	Pair      string
	TradeType string
	// Liquidation lets an operator cash-out SELL through a paused governor
	Liquidation bool
}

// Fill describes an executed intent
type Fill struct {
	Pair      string              `json:"pair"`
	Venue     string              `json:"venue"`
	Signal    Signal              `json:"signal"`
	TradeType string              `json:"trade_type"`
	Mode      string              `json:"mode"`
	OrderID   string              `json:"order_id,omitempty"`
	Price     float64             `json:"price"`
	Requested float64             `json:"requested"`
	Amount    float64             `json:"amount"`
	Fee       float64             `json:"fee"`
	FeeRate   float64             `json:"fee_rate"`
	Slippage  float64             `json:"slippage"`
	Latency   time.Duration       `json:"latency"`
	Partial   bool                `json:"partial"`
	Trade     *ledger.TradeRecord `json:"trade,omitempty"`
}

// Settings are the tunables the engine reads
type Settings struct {
	DryRun   bool
	Sim      config.SimulationConfig
	Risk     config.RiskConfig
	FeeRates map[string]float64 // fallback when FetchFees fails
}

// SettingsFromConfig extracts engine settings from the app config
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		DryRun: cfg.TradingConfig.DryRun,
		Sim:    cfg.SimConfig,
		Risk:   cfg.RiskConfig,
		FeeRates: map[string]float64{
			venue.Binance:  cfg.FeeRate(venue.Binance),
			venue.Coinbase: cfg.FeeRate(venue.Coinbase),
		},
	}
}

// Deps are the collaborators the engine writes to
type Deps struct {
	Ledger   *ledger.Ledger
	Governor *circuit.Governor
	Markers  *marketdata.TradeMarkers
	Policy   retry.Policy
	Bus      *events.EventBus
	Metrics  *metrics.Metrics
}

// Option customizes an Engine
type Option func(*Engine)

// WithRand makes simulated outcomes deterministic
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithSleeper replaces the simulated latency wait
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine executes intents. Execute calls are expected to be sequential but
// are safe to run concurrently.
type Engine struct {
	settings Settings
	deps     Deps
	logger   zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	newOrderID func() string
}

// New creates an execution engine
func New(settings Settings, deps Deps, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		deps:     deps,
		logger:   logger.With().Str("component", "execution").Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
		now:      time.Now,

		newOrderID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Mode returns "simulated" or "live"
func (e *Engine) Mode() string {
	if e.settings.DryRun {
		return ModeSimulated
	}
	return ModeLive
}

func (e *Engine) uniform(lo, hi float64) float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return lo + e.rng.Float64()*(hi-lo)
}

func (e *Engine) chance(p float64) bool {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64() < p
}

// Execute runs the preconditions, then the simulated or live fill, then the
// ledger update. A nil error means the intent executed.
func (e *Engine) Execute(ctx context.Context, in Intent) (*Fill, error) {
	start := e.now()
	log := logging.TradeContext(e.logger, in.Pair, in.Venue.ID, string(in.Signal), in.Amount, in.Price).
		With().Str("trade_type", in.TradeType).Logger()

	fill, err := e.execute(ctx, in, log)
	if err != nil && !errors.Is(err, ErrCircuitTripped) {
		e.reject(in, err, log)
		return nil, err
	}

	e.deps.Metrics.ObserveTrade(in.Venue.ID, string(in.Signal), e.Mode(), e.now().Sub(start))
	prof := e.deps.Ledger.Profit()
	e.deps.Metrics.SetProfit(prof.TotalProfit, prof.TradeCount)
	if fill.Signal == Buy {
		e.deps.Bus.PublishTradeOpened(fill.Pair, fill.Venue, fill.TradeType, fill.Price, fill.Amount)
	} else if fill.Trade != nil {
		e.deps.Bus.PublishTradeClosed(fill.Pair, fill.Venue, fill.TradeType, fill.Trade.BuyPrice, fill.Price, fill.Amount, fill.Trade.NetProfit)
		e.deps.Bus.PublishPnL(prof.TotalProfit, prof.TradeCount)
	}
	return fill, err
}

func (e *Engine) execute(ctx context.Context, in Intent, log zerolog.Logger) (*Fill, error) {
	if e.deps.Governor != nil && e.deps.Governor.IsPaused() && !(in.Liquidation && in.Signal == Sell) {
		return nil, ErrPaused
	}
	if !in.Venue.Available() {
		return nil, fmt.Errorf("%w: %s", ErrVenueUnavailable, in.Venue.ID)
	}
	if in.Price <= 0 || in.Amount <= 0 || (in.Signal != Buy && in.Signal != Sell) {
		return nil, fmt.Errorf("%w: signal=%s price=%f amount=%f", ErrInvalidIntent, in.Signal, in.Price, in.Amount)
	}

	if !e.settings.DryRun && in.Signal == Buy {
		if err := e.checkBalance(ctx, in); err != nil {
			return nil, err
		}
	}

	pos, ok := e.deps.Ledger.Position(in.Pair, in.Venue.ID)
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %s on %s", ledger.ErrUnknownPosition, in.Pair, in.Venue.ID)
	case in.Signal == Buy && pos.Holding:
		return nil, fmt.Errorf("%w: %s on %s", ledger.ErrAlreadyHolding, in.Pair, in.Venue.ID)
	case in.Signal == Sell && !pos.Holding:
		return nil, fmt.Errorf("%w: %s on %s", ledger.ErrNoPosition, in.Pair, in.Venue.ID)
	}
	if in.Signal == Sell && in.Amount > pos.Amount {
		in.Amount = pos.Amount
	}

	feeRate := e.feeRate(ctx, in)

	if e.deps.Markers != nil {
		e.deps.Markers.Add(in.Pair, marketdata.TradeMarker{
			Time: e.now(), Price: in.Price, Side: string(in.Signal), Venue: in.Venue.ID,
		})
	}

	var (
		fill *Fill
		err  error
	)
	if e.settings.DryRun {
		fill, err = e.simulate(ctx, in, pos, feeRate, log)
	} else {
		fill, err = e.live(ctx, in, feeRate, log)
	}
	if err != nil {
		return nil, err
	}

	if err := e.record(fill); err != nil {
		return nil, err
	}

	log.Info().Str("mode", fill.Mode).Str("executed_as", fill.TradeType).
		Float64("fill_price", fill.Price).Float64("filled", fill.Amount).
		Float64("fee", fill.Fee).Float64("slippage", fill.Slippage).Dur("latency", fill.Latency).
		Msg("Trade executed")

	if fill.Signal == Sell && e.deps.Governor != nil {
		if e.deps.Governor.Evaluate(e.deps.Ledger.TotalProfit().InexactFloat64()) {
			return fill, ErrCircuitTripped
		}
	}
	return fill, nil
}

func (e *Engine) checkBalance(ctx context.Context, in Intent) error {
	quote := in.Venue.QuoteCurrency
	if _, q := venue.SplitSymbol(in.Symbol); q != "" {
		quote = q
	}

	balances, err := in.Venue.Adapter.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBalanceCheck, err)
	}
	required := in.Price * in.Amount
	if have := balances[quote]; have < required {
		return fmt.Errorf("%w: %s %.2f < %.2f", ErrInsufficientBalance, quote, have, required)
	}
	return nil
}

func (e *Engine) feeRate(ctx context.Context, in Intent) float64 {
	fees, err := in.Venue.Adapter.FetchFees(ctx, in.Symbol)
	if err == nil && fees.Taker > 0 {
		return fees.Taker
	}
	fallback := e.settings.FeeRates[in.Venue.ID]
	if err != nil {
		e.logger.Debug().Err(err).Str("venue", in.Venue.ID).Float64("fallback", fallback).Msg("Fee lookup failed, using configured rate")
	}
	return fallback
}

func (e *Engine) simulate(ctx context.Context, in Intent, pos ledger.Position, feeRate float64, log zerolog.Logger) (*Fill, error) {
	sim := e.settings.Sim
	latency := time.Duration(e.uniform(float64(sim.LatencyMin), float64(sim.LatencyMax)))
	if err := e.sleep(ctx, latency); err != nil {
		return nil, err
	}
	if e.chance(sim.FailureRate) {
		return nil, fmt.Errorf("%w after %s", ErrSimulatedFailure, latency)
	}

	slip := sim.Slippage * e.uniform(sim.SlippageBandMin, sim.SlippageBandMax)
	price := in.Price * (1 - slip)
	if in.Signal == Buy {
		price = in.Price * (1 + slip)
	}

	tradeType := in.TradeType
	amount := in.Amount
	risk := e.settings.Risk

	if in.Signal == Buy {
		expected := price * risk.MinProfitMargin * amount
		cost := price * amount * (feeRate + sim.Slippage) * risk.CostSafetyFactor
		if expected <= cost {
			return nil, fmt.Errorf("%w: profit %.6f <= cost %.6f", ErrUnprofitable, expected, cost)
		}
	} else if price < pos.EntryPrice*(1-risk.StopLossPercentage) {
		log.Warn().Float64("entry", pos.EntryPrice).Float64("price", price).Msg("Stop-loss triggered")
		tradeType = TradeTypeStopLoss
	}

	partial := false
	if e.chance(sim.PartialFillRate) {
		amount *= e.uniform(0.1, 0.9)
		partial = true
		log.Info().Float64("filled", amount).Float64("requested", in.Amount).Msg("Partial fill")
	}

	return &Fill{
		Pair:      in.Pair,
		Venue:     in.Venue.ID,
		Signal:    in.Signal,
		TradeType: tradeType,
		Mode:      ModeSimulated,
		Price:     price,
		Requested: in.Amount,
		Amount:    amount,
		Fee:       price * amount * feeRate,
		FeeRate:   feeRate,
		Slippage:  slip,
		Latency:   latency,
		Partial:   partial,
	}, nil
}

func (e *Engine) live(ctx context.Context, in Intent, feeRate float64, log zerolog.Logger) (*Fill, error) {
	start := e.now()
	notify := func(attempt int, err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("Order attempt failed")
	}

	// one client order id for every attempt, so a retry after a lost
	// response cannot fill twice
	order := venue.Order{ClientOrderID: e.newOrderID(), Base: in.Amount}
	if in.Signal == Buy {
		order.Quote = in.Amount * in.Price
	}
	log = log.With().Str("client_order_id", order.ClientOrderID).Logger()

	of, err := retry.DoValue(ctx, e.deps.Policy, venue.IsTransient, notify, func(ctx context.Context) (venue.OrderFill, error) {
		if in.Signal == Buy {
			return in.Venue.Adapter.PlaceMarketBuy(ctx, in.Symbol, order)
		}
		return in.Venue.Adapter.PlaceMarketSell(ctx, in.Symbol, order)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderFailed, err)
	}

	price := in.Price
	if of.AvgPrice > 0 {
		price = of.AvgPrice
	}
	executed := of.Filled
	if executed <= 0 {
		executed = in.Amount
		if in.Signal == Buy && in.Venue.Sizing == venue.SizeQuote {
			executed = in.Amount * in.Price / price
		}
	}

	partial := executed < in.Amount*0.999999
	if partial {
		log.Info().Float64("filled", executed).Float64("requested", in.Amount).Msg("Partial fill")
	}

	return &Fill{
		Pair:      in.Pair,
		Venue:     in.Venue.ID,
		Signal:    in.Signal,
		TradeType: in.TradeType,
		Mode:      ModeLive,
		OrderID:   of.OrderID,
		Price:     price,
		Requested: in.Amount,
		Amount:    executed,
		Fee:       price * executed * feeRate,
		FeeRate:   feeRate,
		Latency:   e.now().Sub(start),
		Partial:   partial,
	}, nil
}

func (e *Engine) record(f *Fill) error {
	if f.Signal == Buy {
		return e.deps.Ledger.OpenPosition(f.Pair, f.Venue, f.Amount, f.Price)
	}
	rec, err := e.deps.Ledger.ClosePosition(f.Pair, f.Venue, f.Price, f.FeeRate, ledger.CloseDetails{
		Amount:    f.Amount,
		TradeType: f.TradeType,
		Latency:   f.Latency,
		Slippage:  f.Slippage,
	})
	if err != nil {
		return err
	}
	f.Trade = &rec
	return nil
}

func (e *Engine) reject(in Intent, err error, log zerolog.Logger) {
	reason := RejectReason(err)
	ev := log.Info()
	if reason == "order_failed" || reason == "balance_check" || reason == "other" {
		ev = log.Warn()
	}
	ev.Err(err).Str("reason", reason).Msg("Trade rejected")

	e.deps.Metrics.ObserveRejection(in.Venue.ID, string(in.Signal), e.Mode(), reason)
	e.deps.Bus.PublishTradeRejected(in.Pair, in.Venue.ID, string(in.Signal), in.TradeType, reason)
}

// RejectReason maps an Execute error to a short label
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrVenueUnavailable):
		return "venue_unavailable"
	case errors.Is(err, ErrInvalidIntent):
		return "invalid_intent"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBalanceCheck):
		return "balance_check"
	case errors.Is(err, ledger.ErrAlreadyHolding):
		return "already_holding"
	case errors.Is(err, ledger.ErrNoPosition):
		return "no_position"
	case errors.Is(err, ledger.ErrUnknownPosition):
		return "unknown_position"
	case errors.Is(err, ErrSimulatedFailure):
		return "simulated_failure"
	case errors.Is(err, ErrUnprofitable):
		return "unprofitable"
	case errors.Is(err, ErrOrderFailed):
		return "order_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
