package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/memory"
)

var errDisk = errors.New("disk I/O error")

// flakyStore wraps the memory store and fails selected operations.
type flakyStore struct {
	*memory.Store
	failUpsert      bool
	failList        map[string]bool // keyed by period
	failListAfter   int             // fail ListAllocations after n successful calls; 0 disables
	listCalls       int
	failTxs         bool
	failHighlightIO bool
	mu              sync.Mutex
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New(), failList: map[string]bool{}}
}

func (f *flakyStore) ListAllocations(ctx context.Context, ownerID string, p core.Period) ([]core.CategoryAllocation, error) {
	f.mu.Lock()
	f.listCalls++
	calls := f.listCalls
	fail := f.failList[p.String()] || (f.failListAfter > 0 && calls > f.failListAfter)
	f.mu.Unlock()
	if fail {
		return nil, errDisk
	}
	return f.Store.ListAllocations(ctx, ownerID, p)
}

func (f *flakyStore) UpsertAllocation(ctx context.Context, in core.AllocationInput) (core.CategoryAllocation, error) {
	if f.failUpsert {
		return core.CategoryAllocation{}, errDisk
	}
	return f.Store.UpsertAllocation(ctx, in)
}

func (f *flakyStore) FindTransactions(ctx context.Context, ownerID string, r core.DateRange, tf core.TransactionFilter) ([]core.TransactionRecord, error) {
	if f.failTxs {
		return nil, errDisk
	}
	return f.Store.FindTransactions(ctx, ownerID, r, tf)
}

func (f *flakyStore) InsertHighlight(ctx context.Context, h core.HighlightSelection) (core.HighlightSelection, error) {
	if f.failHighlightIO {
		return core.HighlightSelection{}, errDisk
	}
	return f.Store.InsertHighlight(ctx, h)
}

// recordingPublisher collects events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []core.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) count(t core.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := core.ParseDate(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return d
}

func expense(t *testing.T, owner, date, category, amount string) core.TransactionRecord {
	t.Helper()
	return core.TransactionRecord{OwnerID: owner, Date: day(t, date), Type: core.Expense, CategoryID: category, Amount: dec(amount)}
}

// steppingClock returns strictly increasing instants.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
