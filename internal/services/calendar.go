package services

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/ports"
)

// heatBands are the upper bounds of levels 1-4 as a fraction of the
// threshold; anything at or above the threshold is level 5.
var heatBands = []float64{0.25, 0.5, 0.75, 1.0}

// CalendarAggregator builds per-day and per-month income/expense totals.
type CalendarAggregator struct {
	transactions ports.TransactionFinder
}

func NewCalendarAggregator(transactions ports.TransactionFinder) *CalendarAggregator {
	return &CalendarAggregator{transactions: transactions}
}

// MonthAggregates computes day summaries for period under f. Heat levels
// are relative to this query only.
func (c *CalendarAggregator) MonthAggregates(ctx context.Context, ownerID, period string, f core.CalendarFilter) (core.MonthAggregateResult, error) {
	if ownerID == "" {
		return core.MonthAggregateResult{}, core.ErrNotAuthenticated
	}
	p, err := core.ParsePeriod(period)
	if err != nil {
		return core.MonthAggregateResult{}, err
	}
	tf := f.TransactionFilter()
	records, err := c.transactions.FindTransactions(ctx, ownerID, p.Range(), tf)
	if err != nil {
		return core.MonthAggregateResult{}, core.WrapStore("caricamento calendario", err)
	}
	return Aggregate(p, records, tf), nil
}

// Aggregate is the pure reduction behind MonthAggregates. Records outside
// the period or not matching f are ignored.
func Aggregate(p core.Period, records []core.TransactionRecord, f core.TransactionFilter) core.MonthAggregateResult {
	month := p.Range()
	result := core.MonthAggregateResult{Period: p, Days: make(map[string]core.DayAggregate)}

	for _, t := range records {
		if !t.Countable() || !month.Contains(t.Date) || !f.Matches(t) {
			continue
		}
		key := core.FormatDate(t.Date)
		day, ok := result.Days[key]
		if !ok {
			day = core.DayAggregate{Date: core.DateOnly(t.Date)}
		}
		amount := t.Magnitude()
		switch t.Type {
		case core.Expense:
			day.Expense = day.Expense.Add(amount)
			result.Totals.Expense = result.Totals.Expense.Add(amount)
		case core.Income:
			day.Income = day.Income.Add(amount)
			result.Totals.Income = result.Totals.Income.Add(amount)
		}
		day.Count++
		result.Totals.Count++
		result.Days[key] = day
	}

	expenses := make([]decimal.Decimal, 0, len(result.Days))
	for _, d := range result.Days {
		expenses = append(expenses, d.Expense)
	}
	result.Threshold = HeatThreshold(expenses)
	for key, d := range result.Days {
		d.Level = HeatLevel(d.Expense, result.Threshold)
		result.Days[key] = d
	}
	return result
}

// HeatThreshold returns the 80th-percentile value among the positive
// amounts, at index floor(0.8*n) of the ascending order. A non-positive
// result falls back to the maximum.
func HeatThreshold(amounts []decimal.Decimal) decimal.Decimal {
	positive := make([]decimal.Decimal, 0, len(amounts))
	for _, a := range amounts {
		if a.IsPositive() {
			positive = append(positive, a)
		}
	}
	if len(positive) == 0 {
		return decimal.Zero
	}
	sort.Slice(positive, func(i, j int) bool { return positive[i].LessThan(positive[j]) })

	idx := int(0.8 * float64(len(positive)))
	if idx > len(positive)-1 {
		idx = len(positive) - 1
	}
	threshold := positive[idx]
	if !threshold.IsPositive() {
		threshold = positive[len(positive)-1]
	}
	return threshold
}

// HeatLevel classifies an expense into 0 (nothing spent) through 5.
func HeatLevel(expense, threshold decimal.Decimal) int {
	if !expense.IsPositive() || !threshold.IsPositive() {
		return 0
	}
	ratio := expense.Div(threshold).InexactFloat64()
	for i, band := range heatBands {
		if ratio < band {
			return i + 1
		}
	}
	return len(heatBands) + 1
}
