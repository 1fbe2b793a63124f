package core

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ModeExpenseOnly      CalendarMode = "expense"
	ModeExpenseAndIncome CalendarMode = "all"

	FeatureAvailable   FeatureStatus = "available"
	FeatureUnavailable FeatureStatus = "unavailable"
)

type (
	CalendarMode  string
	FeatureStatus string

	// BudgetStatus is a monthly allocation merged with its spend.
	// Remaining is never clamped; Percentage is clamped to [0, 1].
	BudgetStatus struct {
		Allocation CategoryAllocation
		Spent      decimal.Decimal
		Remaining  decimal.Decimal
		Percentage float64
	}

	// LedgerSummary totals a period's budget statuses.
	LedgerSummary struct {
		Period         Period
		PlannedTotal   decimal.Decimal
		SpentTotal     decimal.Decimal
		RemainingTotal decimal.Decimal
		Percentage     float64
	}

	// WeeklyStatus is a weekly allocation with the spend inside its week.
	// WeekEnd is clipped to the month; Actual is not.
	WeeklyStatus struct {
		Allocation WeeklyAllocation
		WeekStart  time.Time
		WeekEnd    time.Time
		Actual     decimal.Decimal
		Remaining  decimal.Decimal
		Percentage float64
	}

	// CategoryWeeklySummary rolls a category's weeks up to the month.
	// ActualTotal is the category's full-month spend, not the sum of weeks.
	CategoryWeeklySummary struct {
		CategoryKey   string
		CategoryID    string
		CategoryLabel string
		Weeks         int
		PlannedTotal  decimal.Decimal
		ActualTotal   decimal.Decimal
		Remaining     decimal.Decimal
		Percentage    float64
	}

	WeeklyMonth struct {
		Period     Period
		Status     FeatureStatus
		Weeks      []WeeklyStatus
		Categories []CategoryWeeklySummary
	}

	// TransactionFilter narrows a transaction query. Zero values match all.
	TransactionFilter struct {
		Types       []TransactionType
		CategoryIDs []string
		AccountID   string
		MinAmount   *decimal.Decimal
		MaxAmount   *decimal.Decimal
		Search      string
	}

	CalendarFilter struct {
		Mode        CalendarMode
		CategoryIDs []string
		AccountID   string
		MinAmount   *decimal.Decimal
		MaxAmount   *decimal.Decimal
		Search      string
	}

	DayAggregate struct {
		Date    time.Time
		Expense decimal.Decimal
		Income  decimal.Decimal
		Count   int
		Level   int
	}

	MonthTotals struct {
		Expense decimal.Decimal
		Income  decimal.Decimal
		Count   int
	}

	// MonthAggregateResult is keyed by "YYYY-MM-DD".
	MonthAggregateResult struct {
		Period    Period
		Days      map[string]DayAggregate
		Totals    MonthTotals
		Threshold decimal.Decimal
	}
)

// Matches applies the filter to a single record. Amount bounds are
// inclusive and compare the unsigned amount; search is a case-insensitive
// substring match over title, note and merchant.
func (f TransactionFilter) Matches(t TransactionRecord) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
		return false
	}
	if len(f.CategoryIDs) > 0 && !slices.Contains(f.CategoryIDs, t.CategoryID) {
		return false
	}
	if f.AccountID != "" && f.AccountID != t.AccountID {
		return false
	}
	amount := t.Magnitude()
	if f.MinAmount != nil && amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		hay := strings.ToLower(t.Title + "\x00" + t.Note + "\x00" + t.Merchant)
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

// TransactionFilter converts the calendar filter to a store query.
func (f CalendarFilter) TransactionFilter() TransactionFilter {
	types := []TransactionType{Expense}
	if f.Mode == ModeExpenseAndIncome {
		types = append(types, Income)
	}
	return TransactionFilter{
		Types:       types,
		CategoryIDs: f.CategoryIDs,
		AccountID:   f.AccountID,
		MinAmount:   f.MinAmount,
		MaxAmount:   f.MaxAmount,
		Search:      f.Search,
	}
}
