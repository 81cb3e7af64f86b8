package journal

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// AggregateStats are the headline numbers derived from a set of trades.
// They are recomputed from scratch on every change.
type AggregateStats struct {
	Total         int     `json:"total"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	TotalCurrency Amount  `json:"total_usd"`
	TotalR        Amount  `json:"total_r"`
	WinRate       float64 `json:"win_rate"`
	AvgR          float64 `json:"avg_r"`
	ProfitFactor  float64 `json:"profit_factor"`
}

// Compute derives AggregateStats from records. Order does not matter.
//
// A zero result counts toward Total only, so WinRate is wins/total. When
// there are no losses ProfitFactor equals the win count.
func Compute(records []TradeRecord) AggregateStats {
	var stats AggregateStats
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	totalCurrency := decimal.Zero
	totalR := decimal.Zero

	for _, r := range records {
		result := r.ResultInCurrency.Decimal
		switch result.Sign() {
		case 1:
			stats.Wins++
			grossProfit = grossProfit.Add(result)
		case -1:
			stats.Losses++
			grossLoss = grossLoss.Add(result)
		}
		totalCurrency = totalCurrency.Add(result)
		totalR = totalR.Add(r.ResultInRiskUnits.Decimal)
	}

	stats.Total = len(records)
	stats.TotalCurrency = Amount{totalCurrency}
	stats.TotalR = Amount{totalR}
	if stats.Total > 0 {
		total := decimal.NewFromInt(int64(stats.Total))
		stats.WinRate = finite(decimal.NewFromInt(int64(stats.Wins)).Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64())
		stats.AvgR = finite(totalR.Div(total).InexactFloat64())
	}
	if stats.Losses == 0 {
		stats.ProfitFactor = float64(stats.Wins)
	} else {
		stats.ProfitFactor = finite(grossProfit.Div(grossLoss).Abs().InexactFloat64())
	}
	return stats
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// EquityPoint is one point of the equity curve.
type EquityPoint struct {
	Index  int    `json:"index"`
	Date   string `json:"date"`
	Equity Amount `json:"equity"`
}

// EquityCurve returns the running sum of currency results, one point per
// record in the order supplied. Callers wanting a date-ordered curve pass
// date-ordered records.
func EquityCurve(records []TradeRecord) []EquityPoint {
	points := make([]EquityPoint, 0, len(records))
	running := decimal.Zero
	for i, r := range records {
		running = running.Add(r.ResultInCurrency.Decimal)
		points = append(points, EquityPoint{Index: i + 1, Date: r.OccurredOn, Equity: Amount{running}})
	}
	return points
}

// DailyPnL is the currency result of one calendar date.
type DailyPnL struct {
	Date   string `json:"date"`
	PnL    Amount `json:"pnl"`
	Trades int    `json:"trades"`
}

// DailyPnLs groups currency results by exact OccurredOn string, in order of
// first appearance.
func DailyPnLs(records []TradeRecord) []DailyPnL {
	index := make(map[string]int)
	var days []DailyPnL
	for _, r := range records {
		i, ok := index[r.OccurredOn]
		if !ok {
			i = len(days)
			index[r.OccurredOn] = i
			days = append(days, DailyPnL{Date: r.OccurredOn})
		}
		days[i].PnL = days[i].PnL.Plus(r.ResultInCurrency)
		days[i].Trades++
	}
	return days
}

// WeeklyPnL is the currency result of one naive week bucket.
type WeeklyPnL struct {
	Week int    `json:"week"`
	PnL  Amount `json:"pnl"`
}

// WeekOfMonth returns ceil(dayOfMonth/7) for a YYYY-MM-DD date, or 0 when
// the day part does not parse. This is not an ISO week.
func WeekOfMonth(date string) int {
	if len(date) < 10 {
		return 0
	}
	day, err := strconv.Atoi(date[8:10])
	if err != nil || day < 1 {
		return 0
	}
	return (day + 6) / 7
}

// WeeklyPnLs buckets daily results by WeekOfMonth, in order of first
// appearance. The bucket key is the week number alone, so the same week
// number from different months accumulates together.
func WeeklyPnLs(daily []DailyPnL) []WeeklyPnL {
	index := make(map[int]int)
	var weeks []WeeklyPnL
	for _, d := range daily {
		w := WeekOfMonth(d.Date)
		i, ok := index[w]
		if !ok {
			i = len(weeks)
			index[w] = i
			weeks = append(weeks, WeeklyPnL{Week: w})
		}
		weeks[i].PnL = weeks[i].PnL.Plus(d.PnL)
	}
	return weeks
}

// MonthlyPnL is the currency result of one YYYY-MM month.
type MonthlyPnL struct {
	Month  string `json:"month"`
	PnL    Amount `json:"pnl"`
	Trades int    `json:"trades"`
}

// MonthlyPnLs groups currency results by the YYYY-MM prefix of OccurredOn,
// in order of first appearance.
func MonthlyPnLs(records []TradeRecord) []MonthlyPnL {
	index := make(map[string]int)
	var months []MonthlyPnL
	for _, r := range records {
		key := r.OccurredOn
		if len(key) >= 7 {
			key = key[:7]
		}
		i, ok := index[key]
		if !ok {
			i = len(months)
			index[key] = i
			months = append(months, MonthlyPnL{Month: key})
		}
		months[i].PnL = months[i].PnL.Plus(r.ResultInCurrency)
		months[i].Trades++
	}
	return months
}

// Summary bundles every derived series for a dashboard.
type Summary struct {
	Stats       AggregateStats `json:"stats"`
	EquityCurve []EquityPoint  `json:"equity_curve"`
	Daily       []DailyPnL     `json:"daily"`
	Weekly      []WeeklyPnL    `json:"weekly"`
	Monthly     []MonthlyPnL   `json:"monthly"`
}

// Summarize computes all derived series over records in the order given.
func Summarize(records []TradeRecord) Summary {
	daily := DailyPnLs(records)
	return Summary{
		Stats:       Compute(records),
		EquityCurve: EquityCurve(records),
		Daily:       daily,
		Weekly:      WeeklyPnLs(daily),
		Monthly:     MonthlyPnLs(records),
	}
}

// CalendarDay is one cell of a month grid.
type CalendarDay struct {
	Date        string `json:"date"`
	InMonth     bool   `json:"in_month"`
	PnL         Amount `json:"pnl"`
	Trades      int    `json:"trades"`
	HasActivity bool   `json:"has_activity"`
}

// CalendarMonth lays out the month containing month as a grid of whole
// weeks starting on Sunday, filling cells from daily.
func CalendarMonth(daily []DailyPnL, month time.Time) [][]CalendarDay {
	byDate := make(map[string]DailyPnL, len(daily))
	for _, d := range daily {
		byDate[d.Date] = d
	}

	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	start := first.AddDate(0, 0, -int(first.Weekday()))
	end := last.AddDate(0, 0, int(time.Saturday-last.Weekday()))

	var weeks [][]CalendarDay
	var week []CalendarDay
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(DateLayout)
		cell := CalendarDay{Date: key, InMonth: day.Month() == first.Month()}
		if d, ok := byDate[key]; ok {
			cell.PnL = d.PnL
			cell.Trades = d.Trades
			cell.HasActivity = d.Trades > 0
		}
		week = append(week, cell)
		if len(week) == 7 {
			weeks = append(weeks, week)
			week = nil
		}
	}
	return weeks
}
