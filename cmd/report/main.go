// Command report prints a performance summary of the recorded trade
// history and optionally exports it as CSV. It opens the same database the
// trading process writes, so it can run while the bot is live.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"tradepilot/internal/adapters/logger"
	"tradepilot/internal/adapters/sqlite"
	"tradepilot/internal/domain"
	"tradepilot/internal/strategy/analytics"
	"tradepilot/internal/utils"
)

func main() {
	dbPath := flag.String("db", "./data/tradepilot.db", "path to the trade database")
	days := flag.Int("days", 0, "restrict the report to trades closed in the last N days (0 = all)")
	balance := flag.Float64("balance", 10000, "starting balance for the equity and ROI figures")
	csvPath := flag.String("csv", "", "export the selected trades to this CSV file")
	flag.Parse()

	appLogger := logger.New(logger.Options{Level: "warn"})
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening trade database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	var since time.Time
	if *days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -*days)
	}

	trades, err := repo.FindSince(ctx, since)
	if err != nil {
		log.Fatalf("Error reading trades: %v", err)
	}
	if len(trades) == 0 {
		fmt.Println("No closed trades recorded.")
		return
	}

	report := analytics.Analyze(trades, *balance)
	printSummary(report)
	printByReason(report)
	printMonthly(report)
	printBySymbol(trades)

	if *csvPath != "" {
		if err := utils.WriteTradesToCSV(trades, *csvPath); err != nil {
			log.Fatalf("Error exporting trades to %s: %v", *csvPath, err)
		}
		fmt.Printf("\nTrades exported to %s\n", *csvPath)
	}
}

func printSummary(r *analytics.Report) {
	fmt.Println("## Performance Summary")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "Trades\t%d\t\n", r.TotalTrades)
	fmt.Fprintf(w, "Wins / Losses\t%d / %d\t\n", r.WinningTrades, r.LosingTrades)
	fmt.Fprintf(w, "Win Rate\t%.1f%%\t\n", r.WinRate*100)
	fmt.Fprintf(w, "Net Profit\t%.2f\t\n", r.NetProfit)
	fmt.Fprintf(w, "Profit Factor\t%.2f\t\n", r.ProfitFactor)
	fmt.Fprintf(w, "Avg Win / Avg Loss\t%.2f / %.2f\t\n", r.AverageWin, r.AverageLoss)
	fmt.Fprintf(w, "Expectancy\t%.2f\t\n", r.Expectancy)
	fmt.Fprintf(w, "Max Drawdown\t%.1f%%\t\n", r.MaxDrawdown*100)
	fmt.Fprintf(w, "Max Consecutive Wins\t%d\t\n", r.MaxConsecutiveWins)
	fmt.Fprintf(w, "Max Consecutive Losses\t%d\t\n", r.MaxConsecutiveLosses)
	fmt.Fprintf(w, "Avg Trade Duration\t%s\t\n", r.AverageDuration.Round(time.Minute))
	fmt.Fprintf(w, "Final Balance\t%.2f\t\n", r.FinalBalance)
	fmt.Fprintf(w, "ROI\t%.1f%%\t\n", r.ROI*100)
	w.Flush()
}

func printByReason(r *analytics.Report) {
	fmt.Println("\n## Exits by Reason")
	reasons := make([]domain.CloseReason, 0, len(r.ByReason))
	for reason := range r.ByReason {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Reason\tCount\t")
	for _, reason := range reasons {
		fmt.Fprintf(w, "%s\t%d\t\n", reason, r.ByReason[reason])
	}
	w.Flush()
}

func printMonthly(r *analytics.Report) {
	series := r.MonthlySeries()
	if len(series) == 0 {
		return
	}
	fmt.Println("\n## Monthly PNL")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Month\tPNL\t")
	for _, entry := range series {
		fmt.Fprintf(w, "%s\t%.2f\t\n", entry.Month.Format("2006-01"), entry.PNL)
	}
	w.Flush()
}

func printBySymbol(trades []*domain.Trade) {
	type symbolStats struct {
		trades int
		wins   int
		pnl    float64
	}
	bySymbol := make(map[string]*symbolStats)
	for _, t := range trades {
		s, ok := bySymbol[t.Symbol]
		if !ok {
			s = &symbolStats{}
			bySymbol[t.Symbol] = s
		}
		s.trades++
		if t.IsWin() {
			s.wins++
		}
		s.pnl += t.PNL
	}

	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	fmt.Println("\n## Per Symbol")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Symbol\tTrades\tWinRate\tPNL\t")
	for _, symbol := range symbols {
		s := bySymbol[symbol]
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.2f\t\n",
			symbol, s.trades, float64(s.wins)/float64(s.trades)*100, s.pnl)
	}
	w.Flush()
}
