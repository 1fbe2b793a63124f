package services

import (
	"context"
	"errors"
	"strings"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/ports"
)

const (
	Added   ToggleResult = "added"
	Removed ToggleResult = "removed"
)

type (
	ToggleResult string

	// ResolvedHighlight is a selection with the budget it points at. Exactly
	// one of Monthly and Weekly is set.
	ResolvedHighlight struct {
		Selection core.HighlightSelection
		Monthly   *core.BudgetStatus
		Weekly    *core.WeeklyStatus
	}
)

// HighlightSelector manages the per-owner pinboard of at most
// core.MaxHighlights budgets.
type HighlightSelector struct {
	store  ports.HighlightStore
	events ports.EventPublisher
}

func NewHighlightSelector(store ports.HighlightStore, events ports.EventPublisher) *HighlightSelector {
	return &HighlightSelector{store: store, events: events}
}

// Toggle removes the selection if present and adds it otherwise. A full
// pinboard yields core.ErrLimitReached.
func (h *HighlightSelector) Toggle(ctx context.Context, ownerID string, kind core.BudgetKind, budgetID string) (ToggleResult, error) {
	if ownerID == "" {
		return "", core.ErrNotAuthenticated
	}
	budgetID = strings.TrimSpace(budgetID)
	if !kind.IsValid() {
		return "", core.Validationf("tipo di budget sconosciuto %q", kind)
	}
	if budgetID == "" {
		return "", core.Validationf("id del budget obbligatorio")
	}

	existing, found, err := h.store.FindHighlight(ctx, ownerID, kind, budgetID)
	if err != nil {
		return "", core.WrapStore("caricamento evidenze", err)
	}
	if found {
		if err := h.store.DeleteHighlight(ctx, ownerID, existing.ID); err != nil {
			return "", core.WrapStore("rimozione evidenza", err)
		}
		h.publish(ctx, ownerID, kind, budgetID, Removed)
		return Removed, nil
	}

	_, err = h.store.InsertHighlight(ctx, core.HighlightSelection{OwnerID: ownerID, Kind: kind, BudgetID: budgetID})
	if err != nil {
		if errors.Is(err, core.ErrLimitReached) {
			return "", core.ErrLimitReached
		}
		return "", core.WrapStore("aggiunta evidenza", err)
	}
	h.publish(ctx, ownerID, kind, budgetID, Added)
	return Added, nil
}

// List returns the owner's selections, oldest first.
func (h *HighlightSelector) List(ctx context.Context, ownerID string) ([]core.HighlightSelection, error) {
	if ownerID == "" {
		return nil, core.ErrNotAuthenticated
	}
	list, err := h.store.ListHighlights(ctx, ownerID)
	if err != nil {
		return nil, core.WrapStore("caricamento evidenze", err)
	}
	return list, nil
}

// Resolve loads the budgets behind the first core.MaxHighlights selections.
// Selections pointing at budgets that no longer exist are skipped.
func (h *HighlightSelector) Resolve(ctx context.Context, ownerID string, ledger *Ledger, weekly *WeeklyReconciler) ([]ResolvedHighlight, error) {
	list, err := h.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(list) > core.MaxHighlights {
		list = list[:core.MaxHighlights]
	}

	out := make([]ResolvedHighlight, 0, len(list))
	for _, sel := range list {
		r := ResolvedHighlight{Selection: sel}
		switch sel.Kind {
		case core.KindMonthly:
			st, err := ledger.Get(ctx, ownerID, sel.BudgetID)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			r.Monthly = &st
		case core.KindWeekly:
			st, err := weekly.Get(ctx, ownerID, sel.BudgetID)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			r.Weekly = &st
		default:
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (h *HighlightSelector) publish(ctx context.Context, ownerID string, kind core.BudgetKind, budgetID string, result ToggleResult) {
	if h.events == nil {
		return
	}
	e := core.NewEvent(core.EventHighlightToggled, ownerID, map[string]string{
		"kind":      string(kind),
		"budget_id": budgetID,
		"result":    string(result),
	})
	if err := h.events.Publish(ctx, e); err != nil {
		logFor(ctx, applog.ComponentHighlight).WarnContext(ctx, "Failed to publish highlight event",
			applog.FieldOwnerID, ownerID,
			applog.FieldError, err)
	}
}
