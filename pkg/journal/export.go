package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FormatTradeOrg renders a trade as an Org-mode heading with a PROPERTIES
// drawer and Thesis/Execution/Review sections. Notes, when present, seed
// the Review section.
func FormatTradeOrg(t TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s %s (%s)\n", t.OccurredOn, t.Instrument, t.Direction, shortID(t.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", t.ID)
	fmt.Fprintf(&b, ":DATE: %s\n", t.OccurredOn)
	fmt.Fprintf(&b, ":PAIR: %s\n", t.Instrument)
	fmt.Fprintf(&b, ":DIRECTION: %s\n", t.Direction)
	fmt.Fprintf(&b, ":SESSION: %s\n", t.Session)
	fmt.Fprintf(&b, ":STRATEGY: %s\n", t.StrategyTag)
	fmt.Fprintf(&b, ":RISK: %s\n", t.RiskAmount.StringFixed(2))
	fmt.Fprintf(&b, ":RESULT_USD: %s\n", t.ResultInCurrency.StringFixed(2))
	fmt.Fprintf(&b, ":RESULT_R: %s\n", t.ResultInRiskUnits.StringFixed(2))
	if t.SetupTag != nil {
		fmt.Fprintf(&b, ":SETUP: %s\n", *t.SetupTag)
	}
	if t.Mood != nil {
		fmt.Fprintf(&b, ":MOOD: %s\n", *t.Mood)
	}
	if t.ScreenshotReference != nil {
		fmt.Fprintf(&b, ":SCREENSHOT: %s\n", *t.ScreenshotReference)
	}
	b.WriteString(":END:\n\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n")
	if t.FreeformNotes != nil && strings.TrimSpace(*t.FreeformNotes) != "" {
		for _, line := range strings.Split(strings.TrimSpace(*t.FreeformNotes), "\n") {
			b.WriteString("- " + line + "\n")
		}
	} else {
		b.WriteString("- \n")
	}
	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

// FormatStatsOrg renders aggregate statistics as an Org heading with a table.
func FormatStatsOrg(s AggregateStats) string {
	var b strings.Builder
	b.WriteString("* Statistics\n")
	fmt.Fprintf(&b, "| Trades        | %d |\n", s.Total)
	fmt.Fprintf(&b, "| Wins          | %d |\n", s.Wins)
	fmt.Fprintf(&b, "| Losses        | %d |\n", s.Losses)
	fmt.Fprintf(&b, "| Win rate      | %.2f%% |\n", s.WinRate)
	fmt.Fprintf(&b, "| Total P&L     | %s |\n", s.TotalCurrency.StringFixed(2))
	fmt.Fprintf(&b, "| Total R       | %s |\n", s.TotalR.StringFixed(2))
	fmt.Fprintf(&b, "| Average R     | %.2f |\n", s.AvgR)
	fmt.Fprintf(&b, "| Profit factor | %.2f |\n", s.ProfitFactor)
	return b.String()
}

// WriteCSV writes a header row of wire keys followed by one row per trade.
// Absent optional fields are written as empty cells.
func WriteCSV(w io.Writer, trades []TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(WireKeys); err != nil {
		return err
	}
	for _, t := range trades {
		row := ToWire(t)
		cells := make([]string, len(WireKeys))
		for i, key := range WireKeys {
			cells[i] = csvCell(row[key])
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
