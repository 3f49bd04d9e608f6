// Package metrics exposes the bot's Prometheus collectors on a private registry.
//
//   - bot_trades_total{venue,side,mode,result}  executed or rejected intents
//   - bot_rejections_total{reason}               rejected intents by reason
//   - bot_fetch_failures_total{venue}            candle fetches that exhausted retries
//   - bot_total_profit                           realized profit in quote currency
//   - bot_trade_count                            completed closing trades
//   - bot_price{pair,venue}                      latest price used by strategies
//   - bot_paused                                 1 while the governor is paused
//   - bot_tick_duration_seconds                  control loop tick latency
//   - bot_execution_latency_seconds{mode}        time spent inside Execute
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is a valid no-op sink.
type Metrics struct {
	registry *prometheus.Registry

	trades        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	totalProfit   prometheus.Gauge
	tradeCount    prometheus.Gauge
	prices        *prometheus.GaugeVec
	paused        prometheus.Gauge
	tickDuration  prometheus.Histogram
	execLatency   *prometheus.HistogramVec
}

// New registers all collectors plus Go runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Trade intents by venue, side, mode and result",
		}, []string{"venue", "side", "mode", "result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_rejections_total",
			Help: "Rejected trade intents by reason",
		}, []string{"reason"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_fetch_failures_total",
			Help: "Candle fetches that exhausted retries",
		}, []string{"venue"}),
		totalProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_total_profit",
			Help: "Realized net profit in quote currency",
		}),
		tradeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_trade_count",
			Help: "Completed closing trades",
		}),
		prices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_price",
			Help: "Latest price per pair and venue",
		}, []string{"pair", "venue"}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_paused",
			Help: "1 while trading is paused",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_tick_duration_seconds",
			Help:    "Control loop tick duration",
			Buckets: prometheus.DefBuckets,
		}),
		execLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bot_execution_latency_seconds",
			Help:    "Time spent executing a trade intent",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mode"}),
	}

	reg.MustRegister(m.trades, m.rejections, m.fetchFailures, m.totalProfit, m.tradeCount,
		m.prices, m.paused, m.tickDuration, m.execLatency)
	return m
}

// Registry exposes the underlying registry for tests and custom gatherers
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTrade counts an executed intent
func (m *Metrics) ObserveTrade(venueID, side, mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(venueID, side, mode, "executed").Inc()
	m.execLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveRejection counts a rejected intent
func (m *Metrics) ObserveRejection(venueID, side, mode, reason string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(venueID, side, mode, "rejected").Inc()
	m.rejections.WithLabelValues(reason).Inc()
}

// ObserveFetchFailure counts an unavailable candle fetch
func (m *Metrics) ObserveFetchFailure(venueID string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(venueID).Inc()
}

// SetProfit updates the profit gauges
func (m *Metrics) SetProfit(total float64, count int) {
	if m == nil {
		return
	}
	m.totalProfit.Set(total)
	m.tradeCount.Set(float64(count))
}

// SetPrice records the price used for a pair on a venue
func (m *Metrics) SetPrice(pair, venueID string, price float64) {
	if m == nil {
		return
	}
	m.prices.WithLabelValues(pair, venueID).Set(price)
}

// SetPaused mirrors the governor state
func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
	} else {
		m.paused.Set(0)
	}
}

// ObserveTick records one control loop iteration
func (m *Metrics) ObserveTick(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(elapsed.Seconds())
}
