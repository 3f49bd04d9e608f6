// Command analyze_reports summarizes the trade CSVs written by the bot's report sink.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/report"
)

type GroupStats struct {
	Key           string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	TotalFees     float64
	TotalSlippage float64
	WinRate       float64
	AvgPnL        float64
}

func main() {
	dir := flag.String("dir", "reports", "directory holding trade CSVs")
	by := flag.String("by", "pair", "group by: pair, venue, signal or all")
	flag.Parse()

	trades, files, err := loadTrades(*dir)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	if len(trades) == 0 {
		fmt.Printf("❌ No trades found in %s (%d files)\n", *dir, files)
		return
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("📊 TRADE REPORT ANALYSIS")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("   %d trades from %d files in %s\n", len(trades), files, *dir)

	groups := []string{*by}
	if *by == "all" {
		groups = []string{"pair", "venue", "signal"}
	}
	for _, g := range groups {
		keyFn, ok := groupKeys[g]
		if !ok {
			fmt.Printf("❌ Unknown grouping %q\n", g)
			os.Exit(1)
		}
		printTable(strings.ToUpper(g), aggregate(trades, keyFn))
	}
}

var groupKeys = map[string]func(ledger.TradeRecord) string{
	"pair":   func(t ledger.TradeRecord) string { return t.Pair },
	"venue":  func(t ledger.TradeRecord) string { return t.Venue },
	"signal": func(t ledger.TradeRecord) string { return t.Signal },
}

// loadTrades reads every trade CSV in dir, skipping summaries
func loadTrades(dir string) ([]ledger.TradeRecord, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", dir, err)
	}

	var all []ledger.TradeRecord
	files := 0
	for _, e := range entries {
		if e.IsDir() || !report.IsTradeFile(e.Name()) {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, files, err
		}
		trades, err := report.ReadTrades(f)
		f.Close()
		if err != nil {
			fmt.Printf("⚠️  Skipping %s: %v\n", e.Name(), err)
			continue
		}
		files++
		all = append(all, trades...)
	}
	return all, files, nil
}

// aggregate groups trades by key, best total PnL first
func aggregate(trades []ledger.TradeRecord, key func(ledger.TradeRecord) string) []*GroupStats {
	byKey := make(map[string]*GroupStats)
	for _, t := range trades {
		k := key(t)
		s, ok := byKey[k]
		if !ok {
			s = &GroupStats{Key: k}
			byKey[k] = s
		}
		s.TotalTrades++
		s.TotalPnL += t.NetProfit
		s.TotalFees += t.Fees
		s.TotalSlippage += t.Slippage
		if t.NetProfit > 0 {
			s.WinningTrades++
		} else if t.NetProfit < 0 {
			s.LosingTrades++
		}
	}

	out := make([]*GroupStats, 0, len(byKey))
	for _, s := range byKey {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPnL == out[j].TotalPnL {
			return out[i].Key < out[j].Key
		}
		return out[i].TotalPnL > out[j].TotalPnL
	})
	return out
}

func printTable(title string, stats []*GroupStats) {
	fmt.Printf("\n📈 PERFORMANCE BY %s\n", title)
	fmt.Println("┌──────────────┬────────┬─────────┬─────────┬──────────────┬──────────────┬────────────┬──────────┐")
	fmt.Println("│ Key          │ Trades │ Winners │ Losers  │ Net PnL      │ Avg PnL      │ Fees       │ Win Rate │")
	fmt.Println("├──────────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼────────────┼──────────┤")

	var total GroupStats
	for _, s := range stats {
		emoji := "🟢"
		if s.TotalPnL < 0 {
			emoji = "🔴"
		}
		fmt.Printf("│ %s %-10s │ %6d │ %7d │ %7d │ %+12.4f │ %+12.4f │ %10.4f │ %7.1f%% │\n",
			emoji, truncate(s.Key, 10), s.TotalTrades, s.WinningTrades, s.LosingTrades,
			s.TotalPnL, s.AvgPnL, s.TotalFees, s.WinRate)
		total.TotalTrades += s.TotalTrades
		total.WinningTrades += s.WinningTrades
		total.LosingTrades += s.LosingTrades
		total.TotalPnL += s.TotalPnL
		total.TotalFees += s.TotalFees
	}
	fmt.Println("└──────────────┴────────┴─────────┴─────────┴──────────────┴──────────────┴────────────┴──────────┘")

	if total.TotalTrades > 0 {
		fmt.Printf("   Total: %d trades, net %+.4f, fees %.4f, win rate %.1f%%\n",
			total.TotalTrades, total.TotalPnL, total.TotalFees,
			float64(total.WinningTrades)/float64(total.TotalTrades)*100)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
