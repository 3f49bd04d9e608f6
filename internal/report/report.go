// Package report flushes completed trades to CSV files and, optionally, a store.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/logging"
)

const (
	filePrefix    = "hourly_report_"
	summarySuffix = "_summary.csv"
	timeLayout    = "2006-01-02_15-04-05"

	maxNameAttempts = 1000
)

// Flush reasons
const (
	ReasonScheduled = "scheduled"
	ReasonStop      = "stop"
	ReasonCashOut   = "cash_out"
)

var ErrMalformedReport = errors.New("malformed report file")

var tradeHeader = []string{
	"id", "time", "pair", "venue", "signal", "buy_price", "sell_price", "amount",
	"gross_profit", "fees", "net_profit", "latency", "slippage",
}

var summaryHeader = []string{"Win Rate", "Avg Profit", "Total Profit", "Trade Count"}

// Summary aggregates one flush
type Summary struct {
	WinRate     float64   `json:"win_rate"`
	AvgProfit   float64   `json:"avg_profit"`
	TotalProfit float64   `json:"total_profit"` // cumulative, from the ledger
	TradeCount  int       `json:"trade_count"`  // cumulative, from the ledger
	Trades      int       `json:"trades"`       // records in this flush
	GeneratedAt time.Time `json:"generated_at"`
}

// Report is one flushed batch
type Report struct {
	Reason      string               `json:"reason"`
	File        string               `json:"file"`
	SummaryFile string               `json:"summary_file"`
	Summary     Summary              `json:"summary"`
	Trades      []ledger.TradeRecord `json:"-"`
}

// Store persists reports beyond the CSV files
type Store interface {
	SaveReport(ctx context.Context, r *Report) error
}

// Summarize computes win rate and average net profit of a batch
func Summarize(trades []ledger.TradeRecord, totalProfit float64, tradeCount int, at time.Time) Summary {
	s := Summary{TotalProfit: totalProfit, TradeCount: tradeCount, Trades: len(trades), GeneratedAt: at}
	if len(trades) == 0 {
		return s
	}
	wins := 0
	sum := decimal.Zero
	for _, t := range trades {
		if t.NetProfit > 0 {
			wins++
		}
		sum = sum.Add(decimal.NewFromFloat(t.NetProfit))
	}
	n := decimal.NewFromInt(int64(len(trades)))
	s.WinRate = decimal.NewFromInt(int64(wins)).Div(n).InexactFloat64()
	s.AvgProfit = sum.Div(n).InexactFloat64()
	return s
}

// Sink drains the ledger's trade buffer into report files
type Sink struct {
	mu     sync.Mutex
	dir    string
	ledger *ledger.Ledger
	store  Store
	bus    *events.EventBus
	logger zerolog.Logger
	now    func() time.Time
}

// NewSink writes reports into dir. store may be nil.
func NewSink(dir string, l *ledger.Ledger, store Store, bus *events.EventBus, logger zerolog.Logger) *Sink {
	return &Sink{
		dir:    dir,
		ledger: l,
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "report").Logger(),
		now:    time.Now,
	}
}

// Dir is the report directory
func (s *Sink) Dir() string { return s.dir }

// Flush writes buffered trades. It returns nil, nil when nothing is pending.
// On a file error the trades go back to the ledger for the next flush.
func (s *Sink) Flush(ctx context.Context, reason string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := s.ledger.DrainTrades()
	if len(trades) == 0 {
		return nil, nil
	}

	now := s.now()
	log := logging.ReportContext(s.logger, reason, now)
	prof := s.ledger.Profit()

	r := &Report{
		Reason:  reason,
		Summary: Summarize(trades, prof.TotalProfit, prof.TradeCount, now),
		Trades:  trades,
	}

	if err := s.writeFiles(r); err != nil {
		s.ledger.RestoreTrades(trades)
		log.Error().Err(err).Msg("Report write failed, trades kept for next flush")
		return nil, err
	}

	if s.store != nil {
		if err := s.store.SaveReport(ctx, r); err != nil {
			log.Warn().Err(err).Msg("Report store failed, CSV written")
		}
	}

	log.Info().Str("file", r.File).Int("trades", len(trades)).
		Float64("win_rate", r.Summary.WinRate).Float64("total_profit", r.Summary.TotalProfit).
		Msg("Profit report saved")
	s.bus.Publish(events.Event{Type: events.EventReportWritten, Data: map[string]interface{}{
		"reason": reason, "file": r.File, "trades": len(trades),
		"win_rate": r.Summary.WinRate, "avg_profit": r.Summary.AvgProfit,
	}})
	return r, nil
}

func (s *Sink) writeFiles(r *Report) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := createReportFile(s.dir, filePrefix+r.Summary.GeneratedAt.Format(timeLayout))
	if err != nil {
		return err
	}
	r.File = f.Name()
	r.SummaryFile = strings.TrimSuffix(r.File, ".csv") + summarySuffix
	if err := writeTo(f, func(w io.Writer) error { return WriteTrades(w, r.Trades) }); err != nil {
		return err
	}

	sf, err := os.Create(r.SummaryFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", r.SummaryFile, err)
	}
	return writeTo(sf, func(w io.Writer) error { return WriteSummary(w, r.Summary) })
}

// createReportFile creates base.csv, or base_N.csv when earlier flushes in
// the same second already took the name. Existing reports are never truncated.
func createReportFile(dir, base string) (*os.File, error) {
	for n := 0; n < maxNameAttempts; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		path := filepath.Join(dir, name+".csv")
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("create %s: %d names taken", base, maxNameAttempts)
}

func writeTo(f *os.File, fn func(io.Writer) error) error {
	path := f.Name()
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// WriteTrades writes records as CSV with a header row
func WriteTrades(w io.Writer, trades []ledger.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.ID, t.Time.Format(time.RFC3339Nano), t.Pair, t.Venue, t.Signal,
			ff(t.BuyPrice), ff(t.SellPrice), ff(t.Amount),
			ff(t.GrossProfit), ff(t.Fees), ff(t.NetProfit),
			ff(t.Latency.Seconds()), ff(t.Slippage),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary writes the one-row summary CSV
func WriteSummary(w io.Writer, s Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	if err := cw.Write([]string{ff(s.WinRate), ff(s.AvgProfit), ff(s.TotalProfit), strconv.Itoa(s.TradeCount)}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// ReadTrades parses a file written by WriteTrades
func ReadTrades(r io.Reader) ([]ledger.TradeRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(tradeHeader)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReport, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]ledger.TradeRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		t, err := parseTradeRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrMalformedReport, i+2, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func parseTradeRow(row []string) (ledger.TradeRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, row[1])
	if err != nil {
		return ledger.TradeRecord{}, err
	}
	nums := make([]float64, 0, 8)
	for _, cell := range row[5:] {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return ledger.TradeRecord{}, err
		}
		nums = append(nums, v)
	}
	return ledger.TradeRecord{
		ID:          row[0],
		Time:        ts,
		Pair:        row[2],
		Venue:       row[3],
		Signal:      row[4],
		BuyPrice:    nums[0],
		SellPrice:   nums[1],
		Amount:      nums[2],
		GrossProfit: nums[3],
		Fees:        nums[4],
		NetProfit:   nums[5],
		Latency:     time.Duration(nums[6] * float64(time.Second)),
		Slippage:    nums[7],
	}, nil
}

// IsTradeFile reports whether name is a trade CSV (not a summary) written by a Sink
func IsTradeFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, filePrefix) && strings.HasSuffix(base, ".csv") && !strings.HasSuffix(base, summarySuffix)
}
