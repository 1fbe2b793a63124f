package services

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/ports"
)

// WeeklyReconciler reports weekly sub-budgets of a month against spend.
type WeeklyReconciler struct {
	weekly ports.WeeklyStore
	spend  *SpendAggregator
}

func NewWeeklyReconciler(weekly ports.WeeklyStore, spend *SpendAggregator) *WeeklyReconciler {
	return &WeeklyReconciler{weekly: weekly, spend: spend}
}

// Month reconciles the weekly allocations whose week starts within the
// period. A store without weekly support yields Status FeatureUnavailable
// and no error.
func (w *WeeklyReconciler) Month(ctx context.Context, ownerID, period string) (core.WeeklyMonth, error) {
	if ownerID == "" {
		return core.WeeklyMonth{}, core.ErrNotAuthenticated
	}
	p, err := core.ParsePeriod(period)
	if err != nil {
		return core.WeeklyMonth{}, err
	}
	month := p.Range()

	// A week starting on the month's last day runs six days into the next
	// month; its actual spend still counts those days.
	span := spanUntil(month, p.LastDay().AddDate(0, 0, 6))

	var (
		allocations []core.WeeklyAllocation
		records     []core.TransactionRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		allocations, err = w.weekly.ListWeekly(gctx, ownerID, month)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = w.spend.Fetch(gctx, ownerID, span, core.Expense)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, core.ErrFeatureUnavailable) {
			logFor(ctx, applog.ComponentWeekly).WarnContext(ctx, "Weekly budgets unavailable, returning empty month",
				applog.FieldOwnerID, ownerID,
				applog.FieldPeriod, p.String())
			return core.WeeklyMonth{Period: p, Status: core.FeatureUnavailable}, nil
		}
		return core.WeeklyMonth{}, core.WrapStore("caricamento budget settimanali", err)
	}

	return Reconcile(p, allocations, records), nil
}

// Reconcile is the pure reduction behind Month. records must cover the
// month and the trailing days of any week that starts inside it.
func Reconcile(p core.Period, allocations []core.WeeklyAllocation, records []core.TransactionRecord) core.WeeklyMonth {
	month := p.Range()
	result := core.WeeklyMonth{Period: p, Status: core.FeatureAvailable}

	var order []string
	byCategory := make(map[string]*core.CategoryWeeklySummary)

	for _, a := range allocations {
		start := core.WeekStart(a.WeekStart)
		if !month.Contains(start) {
			continue
		}
		key := a.Key()
		actual := SumInRange(records, core.Expense, key, core.WeekRange(start))
		result.Weeks = append(result.Weeks, core.WeeklyStatus{
			Allocation: a,
			WeekStart:  start,
			WeekEnd:    core.WeekEndClipped(start, p),
			Actual:     actual,
			Remaining:  a.Planned.Sub(actual),
			Percentage: core.Ratio(actual, a.Planned),
		})

		sum, ok := byCategory[key]
		if !ok {
			sum = &core.CategoryWeeklySummary{
				CategoryKey:   key,
				CategoryID:    a.CategoryID,
				CategoryLabel: strings.TrimSpace(a.CategoryLabel),
				ActualTotal:   SumInRange(records, core.Expense, key, month),
			}
			byCategory[key] = sum
			order = append(order, key)
		}
		sum.Weeks++
		sum.PlannedTotal = sum.PlannedTotal.Add(a.Planned)
	}

	for _, key := range order {
		sum := byCategory[key]
		sum.Remaining = sum.PlannedTotal.Sub(sum.ActualTotal)
		sum.Percentage = core.Ratio(sum.ActualTotal, sum.PlannedTotal)
		result.Categories = append(result.Categories, *sum)
	}
	return result
}

// Upsert stores a weekly allocation; the week start is moved to its Monday.
func (w *WeeklyReconciler) Upsert(ctx context.Context, a core.WeeklyAllocation) (core.WeeklyAllocation, error) {
	a.WeekStart = core.WeekStart(a.WeekStart)
	a.CategoryID = strings.TrimSpace(a.CategoryID)
	a.CategoryLabel = strings.TrimSpace(a.CategoryLabel)
	if err := a.Validate(); err != nil {
		return core.WeeklyAllocation{}, err
	}
	saved, err := w.weekly.UpsertWeekly(ctx, a)
	if err != nil {
		return core.WeeklyAllocation{}, core.WrapStore("salvataggio budget settimanale", err)
	}
	return saved, nil
}

func (w *WeeklyReconciler) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return core.ErrNotAuthenticated
	}
	if err := w.weekly.DeleteWeekly(ctx, ownerID, id); err != nil {
		return core.WrapStore("eliminazione budget settimanale", err)
	}
	return nil
}

// Get returns one weekly allocation reconciled against the month its week
// starts in.
func (w *WeeklyReconciler) Get(ctx context.Context, ownerID, id string) (core.WeeklyStatus, error) {
	if ownerID == "" {
		return core.WeeklyStatus{}, core.ErrNotAuthenticated
	}
	a, err := w.weekly.GetWeekly(ctx, ownerID, id)
	if err != nil {
		return core.WeeklyStatus{}, core.WrapStore("caricamento budget settimanale", err)
	}
	p := core.PeriodOf(a.WeekStart)
	records, err := w.spend.Fetch(ctx, ownerID, a.Range(), core.Expense)
	if err != nil {
		return core.WeeklyStatus{}, err
	}
	month := Reconcile(p, []core.WeeklyAllocation{a}, records)
	if len(month.Weeks) == 0 {
		return core.WeeklyStatus{}, core.ErrNotFound
	}
	return month.Weeks[0], nil
}
