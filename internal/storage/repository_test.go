package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/ports"
)

var _ ports.Store = (*SQLiteRepository)(nil)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	var (
		mu  sync.Mutex
		now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	)
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "bilancio.db"), Options{
		FeatureProbeTTL: time.Hour,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Millisecond)
			return now
		},
	})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := core.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}

func TestMigrationsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	repo, err := NewSQLiteRepository(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	repo.Close()

	v, dirty, err := SchemaVersion(path)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("schema version = %d dirty=%v, want 1 clean", v, dirty)
	}
	// re-running is a no-op
	if err := RunMigrations(path); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestUpsertAllocationIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	feb := core.NewPeriod(2024, time.February)

	first, err := repo.UpsertAllocation(ctx, core.AllocationInput{OwnerID: "u1", Period: feb, CategoryID: "food", Planned: decimal.RequireFromString("500000"), Carryover: true})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := repo.UpsertAllocation(ctx, core.AllocationInput{OwnerID: "u1", Period: feb, CategoryID: "food", Planned: decimal.RequireFromString("450000.50"), Note: "meno"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("upsert must keep identity: %s vs %s", first.ID, second.ID)
	}
	if !second.Planned.Equal(decimal.RequireFromString("450000.50")) || second.Carryover || second.Note != "meno" {
		t.Fatalf("upsert did not update: %+v", second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("timestamps: created %v/%v updated %v/%v", first.CreatedAt, second.CreatedAt, first.UpdatedAt, second.UpdatedAt)
	}

	// envelopes are keyed by normalized label
	if _, err := repo.UpsertAllocation(ctx, core.AllocationInput{OwnerID: "u1", Period: feb, CategoryLabel: "Regali  Natale", Planned: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if _, err := repo.UpsertAllocation(ctx, core.AllocationInput{OwnerID: "u1", Period: feb, CategoryLabel: "regali natale", Planned: decimal.NewFromInt(20)}); err != nil {
		t.Fatalf("envelope again: %v", err)
	}

	list, err := repo.ListAllocations(ctx, "u1", feb)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(list))
	}
	if list[0].CategoryID != "food" || !list[1].Planned.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected list %+v", list)
	}
	if !list[0].Period.Equal(feb) {
		t.Fatalf("period round trip: %v", list[0].Period)
	}

	got, err := repo.GetAllocation(ctx, "u1", first.ID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := repo.GetAllocation(ctx, "u2", first.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("other owner must not see allocation, got %v", err)
	}
}

func TestUpsertAllocationConcurrentWritersConverge(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	p := core.NewPeriod(2024, time.March)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpsertAllocation(ctx, core.AllocationInput{OwnerID: "u1", Period: p, CategoryID: "food", Planned: decimal.NewFromInt(100)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert: %v", err)
		}
	}
	list, err := repo.ListAllocations(ctx, "u1", p)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(list))
	}
}

func TestFindTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	deleted := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)

	for _, tx := range []core.TransactionRecord{
		{OwnerID: "u1", Date: date(t, "2024-02-01"), Type: core.Expense, Amount: decimal.RequireFromString("-12.30"), CategoryID: "food", AccountID: "card", Title: "Coop"},
		{OwnerID: "u1", Date: date(t, "2024-02-15"), Type: core.Income, Amount: decimal.NewFromInt(2000), CategoryID: "salary", AccountID: "card"},
		{OwnerID: "u1", Date: date(t, "2024-02-16"), Type: core.Transfer, Amount: decimal.NewFromInt(300), AccountID: "card"},
		{OwnerID: "u1", Date: date(t, "2024-02-17"), Type: core.Expense, Amount: decimal.NewFromInt(40), CategoryID: "food", DeletedAt: &deleted},
		{OwnerID: "u1", Date: date(t, "2024-03-01"), Type: core.Expense, Amount: decimal.NewFromInt(5), CategoryID: "food"},
		{OwnerID: "u2", Date: date(t, "2024-02-02"), Type: core.Expense, Amount: decimal.NewFromInt(7), CategoryID: "food"},
	} {
		if _, err := repo.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	feb := core.NewPeriod(2024, time.February).Range()
	tests := []struct {
		name   string
		filter core.TransactionFilter
		want   int
	}{
		{"all live rows", core.TransactionFilter{}, 3},
		{"expenses", core.TransactionFilter{Types: []core.TransactionType{core.Expense}}, 1},
		{"expense and income", core.TransactionFilter{Types: []core.TransactionType{core.Expense, core.Income}}, 2},
		{"category", core.TransactionFilter{CategoryIDs: []string{"salary"}}, 1},
		{"account", core.TransactionFilter{AccountID: "cash"}, 0},
		{"search", core.TransactionFilter{Search: "coop"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindTransactions(ctx, "u1", feb, tt.filter)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d rows, want %d", len(got), tt.want)
			}
		})
	}

	got, err := repo.FindTransactions(ctx, "u1", feb, core.TransactionFilter{Types: []core.TransactionType{core.Expense}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got[0].Amount.Equal(decimal.RequireFromString("-12.30")) || core.FormatDate(got[0].Date) != "2024-02-01" {
		t.Fatalf("row normalization: %+v", got[0])
	}
}

func TestCorruptAmountReadsAsZero(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.db.ExecContext(ctx, `INSERT INTO transactions (id, owner_id, date, type, amount) VALUES ('x', 'u1', '2024-02-03', 'expense', 'n/a')`); err != nil {
		t.Fatalf("raw insert: %v", err)
	}
	got, err := repo.FindTransactions(ctx, "u1", core.NewPeriod(2024, time.February).Range(), core.TransactionFilter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || !got[0].Amount.IsZero() {
		t.Fatalf("expected one zero-amount row, got %+v", got)
	}
}

func TestWeeklyCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	saved, err := repo.UpsertWeekly(ctx, core.WeeklyAllocation{OwnerID: "u1", CategoryID: "transport", Planned: decimal.NewFromInt(100), WeekStart: date(t, "2024-02-29")})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if core.FormatDate(saved.WeekStart) != "2024-02-26" {
		t.Fatalf("week start = %s, want Monday 2024-02-26", core.FormatDate(saved.WeekStart))
	}

	saved.Planned = decimal.NewFromInt(120)
	updated, err := repo.UpsertWeekly(ctx, saved)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != saved.ID || !updated.Planned.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("unexpected update %+v", updated)
	}

	list, err := repo.ListWeekly(ctx, "u1", core.NewPeriod(2024, time.February).Range())
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	if list, _ := repo.ListWeekly(ctx, "u1", core.NewPeriod(2024, time.March).Range()); len(list) != 0 {
		t.Fatalf("week starting in February must not list in March")
	}

	if err := repo.DeleteWeekly(ctx, "u2", saved.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("delete by other owner: %v", err)
	}
	other := saved
	other.OwnerID = "u2"
	if _, err := repo.UpsertWeekly(ctx, other); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update by other owner: %v", err)
	}
	if err := repo.DeleteWeekly(ctx, "u1", saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetWeekly(ctx, "u1", saved.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWeeklyFeatureProbe(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	r := core.NewPeriod(2024, time.February).Range()

	if _, err := repo.ListWeekly(ctx, "u1", r); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := repo.db.ExecContext(ctx, `DROP TABLE weekly_budgets`); err != nil {
		t.Fatalf("drop: %v", err)
	}

	// the positive probe is still cached
	if _, err := repo.ListWeekly(ctx, "u1", r); err == nil || errors.Is(err, core.ErrFeatureUnavailable) {
		t.Fatalf("expected a raw query failure while the probe is cached, got %v", err)
	}

	repo.FeatureCache().Delete(weeklyTable)
	if _, err := repo.ListWeekly(ctx, "u1", r); !errors.Is(err, core.ErrFeatureUnavailable) {
		t.Fatalf("expected ErrFeatureUnavailable, got %v", err)
	}
	if _, err := repo.UpsertWeekly(ctx, core.WeeklyAllocation{OwnerID: "u1", CategoryID: "x", WeekStart: date(t, "2024-02-05")}); !errors.Is(err, core.ErrFeatureUnavailable) {
		t.Fatalf("expected ErrFeatureUnavailable on write, got %v", err)
	}
}

func TestHighlightLimitTrigger(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2"} {
		if _, err := repo.InsertHighlight(ctx, core.HighlightSelection{OwnerID: "u1", Kind: core.KindMonthly, BudgetID: id}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if _, err := repo.InsertHighlight(ctx, core.HighlightSelection{OwnerID: "u1", Kind: core.KindWeekly, BudgetID: "w1"}); !errors.Is(err, core.ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	if _, err := repo.InsertHighlight(ctx, core.HighlightSelection{OwnerID: "u2", Kind: core.KindWeekly, BudgetID: "w1"}); err != nil {
		t.Fatalf("limit is per owner: %v", err)
	}

	list, err := repo.ListHighlights(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].BudgetID != "b1" || list[1].BudgetID != "b2" {
		t.Fatalf("expected oldest first, got %+v", list)
	}

	h, found, err := repo.FindHighlight(ctx, "u1", core.KindMonthly, "b1")
	if err != nil || !found {
		t.Fatalf("find: %v %v", found, err)
	}
	if _, found, _ := repo.FindHighlight(ctx, "u1", core.KindWeekly, "b1"); found {
		t.Fatalf("kind is part of the identity")
	}
	if err := repo.DeleteHighlight(ctx, "u1", h.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.InsertHighlight(ctx, core.HighlightSelection{OwnerID: "u1", Kind: core.KindWeekly, BudgetID: "w1"}); err != nil {
		t.Fatalf("insert after delete: %v", err)
	}
}
