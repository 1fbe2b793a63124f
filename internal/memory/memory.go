package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/core"
)

// Store is an in-process implementation of ports.Store. It enforces the
// same invariants as the SQLite store: one allocation per (owner, period,
// category key) and at most core.MaxHighlights selections per owner.
type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	transactions []core.TransactionRecord
	allocations  map[string]core.CategoryAllocation
	weekly       map[string]core.WeeklyAllocation
	highlights   map[string]core.HighlightSelection
	noWeekly     bool
}

func New() *Store {
	return &Store{
		now:         time.Now,
		allocations: make(map[string]core.CategoryAllocation),
		weekly:      make(map[string]core.WeeklyAllocation),
		highlights:  make(map[string]core.HighlightSelection),
	}
}

// WithClock overrides the time source used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// DisableWeekly makes ListWeekly report core.ErrFeatureUnavailable.
func (s *Store) DisableWeekly() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noWeekly = true
}

// AddTransactions appends ledger rows. Missing ids are generated.
func (s *Store) AddTransactions(txs ...core.TransactionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txs {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.Date = core.DateOnly(t.Date)
		s.transactions = append(s.transactions, t)
	}
}

func (s *Store) FindTransactions(_ context.Context, ownerID string, r core.DateRange, f core.TransactionFilter) ([]core.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.TransactionRecord
	for _, t := range s.transactions {
		if t.OwnerID != ownerID || t.Deleted() || !r.Contains(t.Date) {
			continue
		}
		if !f.Matches(t) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func allocationKey(ownerID string, p core.Period, categoryKey string) string {
	return ownerID + "|" + p.String() + "|" + categoryKey
}

func (s *Store) ListAllocations(_ context.Context, ownerID string, p core.Period) ([]core.CategoryAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CategoryAllocation
	for _, a := range s.allocations {
		if a.OwnerID == ownerID && a.Period.Equal(p) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func (s *Store) GetAllocation(_ context.Context, ownerID, id string) (core.CategoryAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.allocations {
		if a.ID == id && a.OwnerID == ownerID {
			return a, nil
		}
	}
	return core.CategoryAllocation{}, fmt.Errorf("allocation %s: %w", id, core.ErrNotFound)
}

func (s *Store) UpsertAllocation(_ context.Context, in core.AllocationInput) (core.CategoryAllocation, error) {
	if err := in.Validate(); err != nil {
		return core.CategoryAllocation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := allocationKey(in.OwnerID, in.Period, in.Key())
	a, exists := s.allocations[key]
	if !exists {
		a = core.CategoryAllocation{
			ID:         uuid.NewString(),
			OwnerID:    in.OwnerID,
			Period:     in.Period,
			CategoryID: in.CategoryID,
			CreatedAt:  now,
		}
	}
	a.CategoryLabel = in.CategoryLabel
	a.Planned = in.Planned
	a.Carryover = in.Carryover
	a.Note = in.Note
	a.UpdatedAt = now
	s.allocations[key] = a
	return a, nil
}

func (s *Store) ListWeekly(_ context.Context, ownerID string, r core.DateRange) ([]core.WeeklyAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noWeekly {
		return nil, core.ErrFeatureUnavailable
	}
	var out []core.WeeklyAllocation
	for _, w := range s.weekly {
		if w.OwnerID == ownerID && r.Contains(w.WeekStart) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WeekStart.Equal(out[j].WeekStart) {
			return out[i].WeekStart.Before(out[j].WeekStart)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func (s *Store) GetWeekly(_ context.Context, ownerID, id string) (core.WeeklyAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.weekly[id]
	if !ok || w.OwnerID != ownerID {
		return core.WeeklyAllocation{}, fmt.Errorf("weekly allocation %s: %w", id, core.ErrNotFound)
	}
	return w, nil
}

func (s *Store) UpsertWeekly(_ context.Context, w core.WeeklyAllocation) (core.WeeklyAllocation, error) {
	w.WeekStart = core.WeekStart(w.WeekStart)
	if err := w.Validate(); err != nil {
		return core.WeeklyAllocation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if w.ID == "" {
		w.ID = uuid.NewString()
		w.CreatedAt = now
	} else if prev, ok := s.weekly[w.ID]; ok {
		if prev.OwnerID != w.OwnerID {
			return core.WeeklyAllocation{}, fmt.Errorf("weekly allocation %s: %w", w.ID, core.ErrNotFound)
		}
		w.CreatedAt = prev.CreatedAt
	} else {
		return core.WeeklyAllocation{}, fmt.Errorf("weekly allocation %s: %w", w.ID, core.ErrNotFound)
	}
	w.UpdatedAt = now
	s.weekly[w.ID] = w
	return w, nil
}

func (s *Store) DeleteWeekly(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.weekly[id]
	if !ok || w.OwnerID != ownerID {
		return fmt.Errorf("weekly allocation %s: %w", id, core.ErrNotFound)
	}
	delete(s.weekly, id)
	return nil
}

func (s *Store) FindHighlight(_ context.Context, ownerID string, kind core.BudgetKind, budgetID string) (core.HighlightSelection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.highlights {
		if h.OwnerID == ownerID && h.Matches(kind, budgetID) {
			return h, true, nil
		}
	}
	return core.HighlightSelection{}, false, nil
}

func (s *Store) InsertHighlight(_ context.Context, h core.HighlightSelection) (core.HighlightSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := 0
	for _, existing := range s.highlights {
		if existing.OwnerID == h.OwnerID {
			live++
		}
	}
	if live >= core.MaxHighlights {
		return core.HighlightSelection{}, core.ErrLimitReached
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now().UTC()
	}
	s.highlights[h.ID] = h
	return h, nil
}

func (s *Store) DeleteHighlight(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.highlights[id]
	if !ok || h.OwnerID != ownerID {
		return fmt.Errorf("highlight %s: %w", id, core.ErrNotFound)
	}
	delete(s.highlights, id)
	return nil
}

func (s *Store) ListHighlights(_ context.Context, ownerID string) ([]core.HighlightSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.HighlightSelection
	for _, h := range s.highlights {
		if h.OwnerID == ownerID {
			out = append(out, h)
		}
	}
	slices.SortStableFunc(out, func(a, b core.HighlightSelection) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}
