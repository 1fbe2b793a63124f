package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/memory"
)

func TestSumByCategoryExcludesTransfersAndDeleted(t *testing.T) {
	deleted := time.Now()
	records := []core.TransactionRecord{
		expense(t, "u1", "2024-02-01", "food", "10.50"),
		expense(t, "u1", "2024-02-02", "food", "-4.50"),
		{Date: day(t, "2024-02-03"), Type: core.Transfer, CategoryID: "food", Amount: dec("100")},
		{Date: day(t, "2024-02-04"), Type: core.Expense, CategoryID: "food", Amount: dec("7"), DeletedAt: &deleted},
		{Date: day(t, "2024-02-05"), Type: core.Income, CategoryID: "food", Amount: dec("1000")},
		{Date: day(t, "2024-02-06"), Type: core.Expense, CategoryID: "fun", Amount: core.AmountFromFloat(0)},
	}
	got := SumByCategory(records, core.Expense)
	if !got["food"].Equal(dec("15")) {
		t.Fatalf("food = %s, want 15", got["food"])
	}
	if !got["fun"].IsZero() {
		t.Fatalf("fun = %s, want 0", got["fun"])
	}
}

func TestSpendAggregatorRejectsMissingOwner(t *testing.T) {
	agg := NewSpendAggregator(memory.New())
	_, err := agg.SumByCategory(context.Background(), "", core.NewPeriod(2024, 1).Range(), core.Expense)
	if !errors.Is(err, core.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestLedgerListWithSpent(t *testing.T) {
	store := memory.New()
	engine := NewEngine(store, nil)
	ctx := context.Background()
	feb := core.NewPeriod(2024, time.February)

	for _, in := range []core.AllocationInput{
		{OwnerID: "u1", Period: feb, CategoryID: "food", Planned: dec("100")},
		{OwnerID: "u1", Period: feb, CategoryID: "fun", Planned: dec("50")},
		{OwnerID: "u1", Period: feb, CategoryID: "free", Planned: decimal.Zero},
	} {
		if _, err := engine.Ledger.Upsert(ctx, in); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	store.AddTransactions(
		expense(t, "u1", "2024-02-10", "food", "130"),
		expense(t, "u1", "2024-02-11", "fun", "20"),
		expense(t, "u1", "2024-03-01", "fun", "999"),
		expense(t, "u1", "2024-02-12", "free", "5"),
	)

	statuses, err := engine.Ledger.ListWithSpent(ctx, "u1", "2024-02")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	byCat := map[string]core.BudgetStatus{}
	for _, s := range statuses {
		byCat[s.Allocation.CategoryID] = s
	}

	food := byCat["food"]
	if !food.Remaining.Equal(dec("-30")) || food.Percentage != 1 {
		t.Fatalf("overspend must not be clamped: remaining=%s pct=%v", food.Remaining, food.Percentage)
	}
	fun := byCat["fun"]
	if !fun.Spent.Equal(dec("20")) || !fun.Remaining.Equal(dec("30")) {
		t.Fatalf("fun: spent=%s remaining=%s", fun.Spent, fun.Remaining)
	}
	if free := byCat["free"]; free.Percentage != 0 || !free.Remaining.Equal(dec("-5")) {
		t.Fatalf("zero plan: pct=%v remaining=%s", free.Percentage, free.Remaining)
	}
	for _, s := range statuses {
		if !s.Remaining.Equal(s.Allocation.Planned.Sub(s.Spent)) {
			t.Fatalf("remaining != planned - spent for %s", s.Allocation.CategoryID)
		}
	}

	sum, err := engine.Ledger.Summary(ctx, "u1", "2024-02")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !sum.PlannedTotal.Equal(dec("150")) || !sum.SpentTotal.Equal(dec("155")) || !sum.RemainingTotal.Equal(dec("-5")) || sum.Percentage != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestLedgerRejectsBeforeStoreAccess(t *testing.T) {
	store := newFlakyStore()
	store.failTxs = true
	store.failList["2024-02"] = true
	ledger := NewEngine(store, nil).Ledger

	if _, err := ledger.ListWithSpent(context.Background(), "u1", "2024-14"); !errors.Is(err, core.ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
	if _, err := ledger.ListWithSpent(context.Background(), "", "2024-02"); !errors.Is(err, core.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if store.listCalls != 0 {
		t.Fatalf("store touched %d times before validation", store.listCalls)
	}

	_, err := ledger.ListWithSpent(context.Background(), "u1", "2024-02")
	if !core.IsStoreFailure(err) || !errors.Is(err, errDisk) {
		t.Fatalf("expected wrapped store failure, got %v", err)
	}
}

func TestLedgerUpsertValidation(t *testing.T) {
	ledger := NewEngine(memory.New(), nil).Ledger
	_, err := ledger.Upsert(context.Background(), core.AllocationInput{
		OwnerID: "u1",
		Period:  core.NewPeriod(2024, time.January),
		Planned: dec("10"),
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("unassigned envelope without a name must fail validation, got %v", err)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if !s.PlannedTotal.IsZero() || s.Percentage != 0 {
		t.Fatalf("unexpected empty summary %+v", s)
	}
}
