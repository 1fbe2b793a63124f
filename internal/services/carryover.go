package services

import (
	"context"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/ports"
)

// CarryoverPropagator repeats last month's carryover-flagged allocations
// into a period that has no allocation for their category yet. It runs on
// every monthly read; it is not a scheduled job.
//
// The planned amount is copied as is. RolloverIn and RolloverOut are not
// touched by this path.
type CarryoverPropagator struct {
	budgets ports.BudgetStore
	events  ports.EventPublisher
}

func NewCarryoverPropagator(budgets ports.BudgetStore, events ports.EventPublisher) *CarryoverPropagator {
	return &CarryoverPropagator{budgets: budgets, events: events}
}

// Propagate returns the period's allocations after carryover. A failure to
// load the current period is returned; any failure in the propagation
// itself degrades to the unpropagated list.
func (c *CarryoverPropagator) Propagate(ctx context.Context, ownerID string, p core.Period) ([]core.CategoryAllocation, error) {
	current, previous, prevErr, err := c.snapshot(ctx, ownerID, p)
	if err != nil {
		return nil, err
	}
	if prevErr != nil {
		logFor(ctx, applog.ComponentLedger).WarnContext(ctx, "Carryover skipped, previous period unavailable",
			applog.FieldOwnerID, ownerID,
			applog.FieldPeriod, p.String(),
			applog.FieldError, prevErr)
		return current, nil
	}

	if enriched, ok := c.tryPropagate(ctx, ownerID, p, current, previous); ok {
		return enriched, nil
	}
	return current, nil
}

// snapshot loads the period and the one before it concurrently. The
// previous period's error is reported separately since it must not fail
// the read.
func (c *CarryoverPropagator) snapshot(ctx context.Context, ownerID string, p core.Period) (current, previous []core.CategoryAllocation, prevErr, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = c.budgets.ListAllocations(gctx, ownerID, p)
		return err
	})
	g.Go(func() error {
		previous, prevErr = c.budgets.ListAllocations(gctx, ownerID, p.Previous())
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, core.WrapStore("caricamento budget", err)
	}
	return current, previous, prevErr, nil
}

// Candidates returns previous-period allocations flagged for carryover
// whose category is not yet present in current.
func Candidates(current, previous []core.CategoryAllocation) []core.CategoryAllocation {
	present := make(map[string]struct{}, len(current))
	for _, a := range current {
		present[a.Key()] = struct{}{}
	}
	var out []core.CategoryAllocation
	for _, a := range previous {
		if !a.Carryover {
			continue
		}
		key := a.Key()
		if _, ok := present[key]; ok || key == "" {
			continue
		}
		present[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

// tryPropagate writes the candidates through the regular upsert path.
// ok is false when nothing was written or the refreshed read failed.
func (c *CarryoverPropagator) tryPropagate(ctx context.Context, ownerID string, p core.Period, current, previous []core.CategoryAllocation) ([]core.CategoryAllocation, bool) {
	candidates := Candidates(current, previous)
	if len(candidates) == 0 {
		return nil, false
	}

	written := 0
	for _, prev := range candidates {
		in := core.AllocationInput{
			OwnerID:       ownerID,
			Period:        p,
			CategoryID:    prev.CategoryID,
			CategoryLabel: prev.CategoryLabel,
			Planned:       prev.Planned,
			Carryover:     prev.Carryover,
			Note:          prev.Note,
		}
		created, err := c.budgets.UpsertAllocation(ctx, in)
		if err != nil {
			logFor(ctx, applog.ComponentLedger).WarnContext(ctx, "Carryover write failed",
				applog.FieldOwnerID, ownerID,
				applog.FieldPeriod, p.String(),
				applog.FieldCategoryKey, prev.Key(),
				applog.FieldError, err)
			continue
		}
		written++
		c.publish(ctx, created, prev)
	}
	if written == 0 {
		return nil, false
	}

	refreshed, err := c.budgets.ListAllocations(ctx, ownerID, p)
	if err != nil {
		logFor(ctx, applog.ComponentLedger).WarnContext(ctx, "Carryover refresh failed, serving unpropagated list",
			applog.FieldOwnerID, ownerID,
			applog.FieldPeriod, p.String(),
			applog.FieldError, err)
		return nil, false
	}

	logFor(ctx, applog.ComponentLedger).InfoContext(ctx, "Carried over allocations",
		applog.FieldOwnerID, ownerID,
		applog.FieldPeriod, p.String(),
		"count", written)
	return refreshed, true
}

func (c *CarryoverPropagator) publish(ctx context.Context, created, source core.CategoryAllocation) {
	if c.events == nil {
		return
	}
	e := core.NewEvent(core.EventAllocationCarriedOver, created.OwnerID, map[string]string{
		"allocation_id": created.ID,
		"source_id":     source.ID,
		"period":        created.Period.String(),
		"category_key":  created.Key(),
		"planned":       created.Planned.String(),
	})
	if err := c.events.Publish(ctx, e); err != nil {
		logFor(ctx, applog.ComponentLedger).WarnContext(ctx, "Failed to publish carryover event",
			applog.FieldOwnerID, created.OwnerID,
			applog.FieldError, err)
	}
}
