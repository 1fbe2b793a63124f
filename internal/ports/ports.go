package ports

import (
	"context"

	"bilancio/internal/core"
)

// Ports for outbound adapters. Implementations own their own connections;
// nothing here is read from package-level state.
type (
	// TransactionFinder queries the external ledger. Soft-deleted rows are
	// never returned.
	TransactionFinder interface {
		FindTransactions(ctx context.Context, ownerID string, r core.DateRange, f core.TransactionFilter) ([]core.TransactionRecord, error)
	}

	// BudgetStore holds monthly allocations. UpsertAllocation is keyed by
	// (owner, period, category key) and is idempotent for identical input.
	BudgetStore interface {
		ListAllocations(ctx context.Context, ownerID string, p core.Period) ([]core.CategoryAllocation, error)
		GetAllocation(ctx context.Context, ownerID, id string) (core.CategoryAllocation, error)
		UpsertAllocation(ctx context.Context, in core.AllocationInput) (core.CategoryAllocation, error)
	}

	// WeeklyStore holds weekly allocations. Week starts are renormalized to
	// the ISO Monday before storage. ListWeekly returns
	// core.ErrFeatureUnavailable when the store has no weekly support.
	WeeklyStore interface {
		ListWeekly(ctx context.Context, ownerID string, r core.DateRange) ([]core.WeeklyAllocation, error)
		GetWeekly(ctx context.Context, ownerID, id string) (core.WeeklyAllocation, error)
		UpsertWeekly(ctx context.Context, w core.WeeklyAllocation) (core.WeeklyAllocation, error)
		DeleteWeekly(ctx context.Context, ownerID, id string) error
	}

	// HighlightStore holds pinned budgets. InsertHighlight returns
	// core.ErrLimitReached when the owner already has core.MaxHighlights rows.
	HighlightStore interface {
		FindHighlight(ctx context.Context, ownerID string, kind core.BudgetKind, budgetID string) (core.HighlightSelection, bool, error)
		InsertHighlight(ctx context.Context, h core.HighlightSelection) (core.HighlightSelection, error)
		DeleteHighlight(ctx context.Context, ownerID, id string) error
		ListHighlights(ctx context.Context, ownerID string) ([]core.HighlightSelection, error)
	}

	// Store is everything the engine reads and writes.
	Store interface {
		TransactionFinder
		BudgetStore
		WeeklyStore
		HighlightStore
	}

	// EventPublisher delivers engine events. Failures are logged by callers,
	// never surfaced to users.
	EventPublisher interface {
		Publish(ctx context.Context, e core.Event) error
	}
)
