package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
)

// timestampLayout sorts lexicographically in the same order as time.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

type scanner interface {
	Scan(dest ...any) error
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// amount normalizes a stored decimal. Corrupt values read as zero so that
// one bad row cannot fail a whole month.
func amount(ctx context.Context, table, id, column, raw string) decimal.Decimal {
	d, ok := core.AmountFromString(raw)
	if !ok && raw != "" {
		slog.WarnContext(ctx, "Unparseable stored amount, using zero",
			applog.FieldComponent, applog.ComponentStorage,
			"table", table,
			"id", id,
			"column", column)
	}
	return d
}

const allocationColumns = `id, owner_id, period, category_id, category_label, planned, carryover,
	rollover_in, rollover_out, note, created_at, updated_at`

func scanAllocation(ctx context.Context, s scanner) (core.CategoryAllocation, error) {
	var (
		a                        core.CategoryAllocation
		period                   string
		planned, rollIn, rollOut string
		carryover                int
		createdAt, updatedAt     string
	)
	if err := s.Scan(&a.ID, &a.OwnerID, &period, &a.CategoryID, &a.CategoryLabel, &planned, &carryover,
		&rollIn, &rollOut, &a.Note, &createdAt, &updatedAt); err != nil {
		return core.CategoryAllocation{}, err
	}
	p, err := core.ParsePeriod(period)
	if err != nil {
		return core.CategoryAllocation{}, err
	}
	a.Period = p
	a.Planned = amount(ctx, "budgets", a.ID, "planned", planned)
	a.RolloverIn = amount(ctx, "budgets", a.ID, "rollover_in", rollIn)
	a.RolloverOut = amount(ctx, "budgets", a.ID, "rollover_out", rollOut)
	a.Carryover = carryover != 0
	a.CreatedAt = parseTimestamp(createdAt)
	a.UpdatedAt = parseTimestamp(updatedAt)
	return a, nil
}

const weeklyColumns = `id, owner_id, week_start, category_id, category_label, planned, note, created_at, updated_at`

func scanWeekly(ctx context.Context, s scanner) (core.WeeklyAllocation, error) {
	var (
		w                    core.WeeklyAllocation
		weekStart, planned   string
		createdAt, updatedAt string
	)
	if err := s.Scan(&w.ID, &w.OwnerID, &weekStart, &w.CategoryID, &w.CategoryLabel, &planned, &w.Note,
		&createdAt, &updatedAt); err != nil {
		return core.WeeklyAllocation{}, err
	}
	start, err := core.ParseDate(weekStart)
	if err != nil {
		return core.WeeklyAllocation{}, err
	}
	w.WeekStart = core.WeekStart(start)
	w.Planned = amount(ctx, "weekly_budgets", w.ID, "planned", planned)
	w.CreatedAt = parseTimestamp(createdAt)
	w.UpdatedAt = parseTimestamp(updatedAt)
	return w, nil
}

const transactionColumns = `id, owner_id, date, type, amount, category_id, category_label, account_id,
	title, note, merchant, deleted_at`

func scanTransaction(ctx context.Context, s scanner) (core.TransactionRecord, error) {
	var (
		t              core.TransactionRecord
		date, typ, amt string
		deletedAt      sql.NullString
	)
	if err := s.Scan(&t.ID, &t.OwnerID, &date, &typ, &amt, &t.CategoryID, &t.CategoryLabel, &t.AccountID,
		&t.Title, &t.Note, &t.Merchant, &deletedAt); err != nil {
		return core.TransactionRecord{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.TransactionRecord{}, err
	}
	t.Date = d
	t.Type = core.TransactionType(typ)
	t.Amount = amount(ctx, "transactions", t.ID, "amount", amt)
	if deletedAt.Valid && deletedAt.String != "" {
		ts := parseTimestamp(deletedAt.String)
		t.DeletedAt = &ts
	}
	return t, nil
}

const highlightColumns = `id, owner_id, kind, budget_id, created_at`

func scanHighlight(s scanner) (core.HighlightSelection, error) {
	var (
		h         core.HighlightSelection
		kind      string
		createdAt string
	)
	if err := s.Scan(&h.ID, &h.OwnerID, &kind, &h.BudgetID, &createdAt); err != nil {
		return core.HighlightSelection{}, err
	}
	h.Kind = core.BudgetKind(kind)
	h.CreatedAt = parseTimestamp(createdAt)
	return h, nil
}
