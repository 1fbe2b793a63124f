// Package services implements the period accounting engine: spend
// aggregation, monthly budget ledger with carryover, weekly reconciliation,
// highlights and calendar aggregates.
//
// Every operation is request scoped: it reads a snapshot from the store,
// reduces it in memory and returns. Nothing is cached between calls.
package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/ports"
)

// SpendAggregator sums transactions by category over a date range.
type SpendAggregator struct {
	transactions ports.TransactionFinder
}

func NewSpendAggregator(transactions ports.TransactionFinder) *SpendAggregator {
	return &SpendAggregator{transactions: transactions}
}

// SumByCategory returns the total of typ transactions per category key in
// the half-open range r. Transfers and soft-deleted rows never count.
func (a *SpendAggregator) SumByCategory(ctx context.Context, ownerID string, r core.DateRange, typ core.TransactionType) (map[string]decimal.Decimal, error) {
	records, err := a.Fetch(ctx, ownerID, r, typ)
	if err != nil {
		return nil, err
	}
	return SumByCategory(records, typ), nil
}

// Fetch loads the countable typ records in r.
func (a *SpendAggregator) Fetch(ctx context.Context, ownerID string, r core.DateRange, typ core.TransactionType) ([]core.TransactionRecord, error) {
	if ownerID == "" {
		return nil, core.ErrNotAuthenticated
	}
	records, err := a.transactions.FindTransactions(ctx, ownerID, r, core.TransactionFilter{Types: []core.TransactionType{typ}})
	if err != nil {
		return nil, core.WrapStore("caricamento movimenti", err)
	}
	return records, nil
}

// SumByCategory is the pure reduction behind SpendAggregator.
func SumByCategory(records []core.TransactionRecord, typ core.TransactionType) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, t := range records {
		if !t.Countable() || t.Type != typ {
			continue
		}
		key := t.Key()
		out[key] = out[key].Add(t.Magnitude())
	}
	return out
}

// SumInRange totals countable typ records of one category key whose date is
// inside r.
func SumInRange(records []core.TransactionRecord, typ core.TransactionType, categoryKey string, r core.DateRange) decimal.Decimal {
	total := decimal.Zero
	for _, t := range records {
		if !t.Countable() || t.Type != typ || t.Key() != categoryKey || !r.Contains(t.Date) {
			continue
		}
		total = total.Add(t.Magnitude())
	}
	return total
}

// spanUntil widens r so that it also covers through the given date.
func spanUntil(r core.DateRange, through time.Time) core.DateRange {
	if end := core.DateOnly(through).AddDate(0, 0, 1); end.After(r.End) {
		r.End = end
	}
	return r
}
