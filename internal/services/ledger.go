package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/ports"
)

// Ledger merges monthly allocations with the spend of their period.
type Ledger struct {
	budgets ports.BudgetStore
	spend   *SpendAggregator
	carry   *CarryoverPropagator
}

func NewLedger(budgets ports.BudgetStore, spend *SpendAggregator, carry *CarryoverPropagator) *Ledger {
	return &Ledger{budgets: budgets, spend: spend, carry: carry}
}

// ListWithSpent returns the period's allocations, after carryover, each
// with its spend and unclamped remaining amount.
func (l *Ledger) ListWithSpent(ctx context.Context, ownerID, period string) ([]core.BudgetStatus, error) {
	if ownerID == "" {
		return nil, core.ErrNotAuthenticated
	}
	p, err := core.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	return l.statuses(ctx, ownerID, p)
}

// Summary totals the period's statuses.
func (l *Ledger) Summary(ctx context.Context, ownerID, period string) (core.LedgerSummary, error) {
	if ownerID == "" {
		return core.LedgerSummary{}, core.ErrNotAuthenticated
	}
	p, err := core.ParsePeriod(period)
	if err != nil {
		return core.LedgerSummary{}, err
	}
	statuses, err := l.statuses(ctx, ownerID, p)
	if err != nil {
		return core.LedgerSummary{}, err
	}
	s := Summarize(statuses)
	s.Period = p
	return s, nil
}

// Upsert creates or updates the allocation for (owner, period, category).
func (l *Ledger) Upsert(ctx context.Context, in core.AllocationInput) (core.CategoryAllocation, error) {
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.CategoryLabel = strings.TrimSpace(in.CategoryLabel)
	in.Note = strings.TrimSpace(in.Note)
	if err := in.Validate(); err != nil {
		return core.CategoryAllocation{}, err
	}
	a, err := l.budgets.UpsertAllocation(ctx, in)
	if err != nil {
		return core.CategoryAllocation{}, core.WrapStore("salvataggio budget", err)
	}
	return a, nil
}

// Get returns one allocation merged with its period's spend.
func (l *Ledger) Get(ctx context.Context, ownerID, id string) (core.BudgetStatus, error) {
	if ownerID == "" {
		return core.BudgetStatus{}, core.ErrNotAuthenticated
	}
	a, err := l.budgets.GetAllocation(ctx, ownerID, id)
	if err != nil {
		return core.BudgetStatus{}, core.WrapStore("caricamento budget", err)
	}
	spent, err := l.spend.SumByCategory(ctx, ownerID, a.Period.Range(), core.Expense)
	if err != nil {
		return core.BudgetStatus{}, err
	}
	return NewBudgetStatus(a, spent[a.Key()]), nil
}

func (l *Ledger) statuses(ctx context.Context, ownerID string, p core.Period) ([]core.BudgetStatus, error) {
	allocations, err := l.carry.Propagate(ctx, ownerID, p)
	if err != nil {
		return nil, err
	}
	spent, err := l.spend.SumByCategory(ctx, ownerID, p.Range(), core.Expense)
	if err != nil {
		return nil, err
	}
	out := make([]core.BudgetStatus, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, NewBudgetStatus(a, spent[a.Key()]))
	}
	return out, nil
}

// NewBudgetStatus computes remaining = planned - spent without clamping.
func NewBudgetStatus(a core.CategoryAllocation, spent decimal.Decimal) core.BudgetStatus {
	return core.BudgetStatus{
		Allocation: a,
		Spent:      spent,
		Remaining:  a.Planned.Sub(spent),
		Percentage: core.ClampUnit(core.Ratio(spent, a.Planned)),
	}
}

// Summarize totals statuses. Percentage is min(spent/planned, 1), or 0 when
// nothing is planned.
func Summarize(statuses []core.BudgetStatus) core.LedgerSummary {
	var s core.LedgerSummary
	for _, st := range statuses {
		s.PlannedTotal = s.PlannedTotal.Add(st.Allocation.Planned)
		s.SpentTotal = s.SpentTotal.Add(st.Spent)
	}
	s.RemainingTotal = s.PlannedTotal.Sub(s.SpentTotal)
	s.Percentage = core.ClampUnit(core.Ratio(s.SpentTotal, s.PlannedTotal))
	return s
}
