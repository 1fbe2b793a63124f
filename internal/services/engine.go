package services

import (
	"context"

	applog "bilancio/internal/log"
	"bilancio/internal/ports"
)

// Engine wires the accounting components around one store handle.
type Engine struct {
	Spend      *SpendAggregator
	Carryover  *CarryoverPropagator
	Ledger     *Ledger
	Weekly     *WeeklyReconciler
	Highlights *HighlightSelector
	Calendar   *CalendarAggregator
}

// NewEngine builds an engine on store. events may be nil.
func NewEngine(store ports.Store, events ports.EventPublisher) *Engine {
	spend := NewSpendAggregator(store)
	carry := NewCarryoverPropagator(store, events)
	ledger := NewLedger(store, spend, carry)
	weekly := NewWeeklyReconciler(store, spend)
	return &Engine{
		Spend:      spend,
		Carryover:  carry,
		Ledger:     ledger,
		Weekly:     weekly,
		Highlights: NewHighlightSelector(store, events),
		Calendar:   NewCalendarAggregator(store),
	}
}

// ResolveHighlights loads the budgets behind the owner's highlights.
func (e *Engine) ResolveHighlights(ctx context.Context, ownerID string) ([]ResolvedHighlight, error) {
	return e.Highlights.Resolve(ctx, ownerID, e.Ledger, e.Weekly)
}

// logFor returns the request-scoped logger, tagged with component.
func logFor(ctx context.Context, component string) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(component)
}
