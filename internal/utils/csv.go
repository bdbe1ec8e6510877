package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"tradepilot/internal/domain"
)

// WriteTradesToCSV exports closed trades for spreadsheet analysis.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"entry_time", "exit_time", "symbol", "side", "entry_price", "exit_price", "quantity", "pnl", "pnl_pct", "close_reason", "strategy"})

	for _, t := range trades {
		writer.Write([]string{
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			t.Symbol,
			string(t.Side),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			strconv.FormatFloat(t.PNL, 'f', -1, 64),
			strconv.FormatFloat(t.PNLPct, 'f', -1, 64),
			string(t.CloseReason),
			t.Strategy,
		})
	}
	return writer.Error()
}
