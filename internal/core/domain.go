package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"

	KindMonthly BudgetKind = "monthly"
	KindWeekly  BudgetKind = "weekly"

	// MaxHighlights is the number of live highlight selections per owner.
	MaxHighlights = 2

	labelKeyPrefix = "label:"
)

type (
	TransactionType string
	BudgetKind      string

	// CategoryAllocation is a monthly budget for one category. An empty
	// CategoryID denotes an unassigned envelope identified by its label.
	CategoryAllocation struct {
		ID            string
		OwnerID       string
		Period        Period
		CategoryID    string
		CategoryLabel string
		Planned       decimal.Decimal
		Carryover     bool
		RolloverIn    decimal.Decimal
		RolloverOut   decimal.Decimal
		Note          string
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// AllocationInput is the upsert payload for a monthly budget, keyed by
	// (owner, period, category key).
	AllocationInput struct {
		OwnerID       string
		Period        Period
		CategoryID    string
		CategoryLabel string
		Planned       decimal.Decimal
		Carryover     bool
		Note          string
	}

	// WeeklyAllocation is a budget for one category over one Monday-start week.
	WeeklyAllocation struct {
		ID            string
		OwnerID       string
		CategoryID    string
		CategoryLabel string
		Planned       decimal.Decimal
		Note          string
		WeekStart     time.Time
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// TransactionRecord is a read-only ledger row owned by another system.
	TransactionRecord struct {
		ID            string
		OwnerID       string
		Date          time.Time
		Type          TransactionType
		Amount        decimal.Decimal
		CategoryID    string
		CategoryLabel string
		AccountID     string
		Title         string
		Note          string
		Merchant      string
		DeletedAt     *time.Time
	}

	// HighlightSelection pins a monthly or weekly budget for an owner.
	HighlightSelection struct {
		ID        string
		OwnerID   string
		Kind      BudgetKind
		BudgetID  string
		CreatedAt time.Time
	}
)

// NormalizeLabel lowercases and collapses whitespace in a category label.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// CategoryKey identifies a category by id, falling back to its normalized
// label for unassigned envelopes. It is empty when both are empty.
func CategoryKey(categoryID, label string) string {
	if id := strings.TrimSpace(categoryID); id != "" {
		return id
	}
	if l := NormalizeLabel(label); l != "" {
		return labelKeyPrefix + l
	}
	return ""
}

func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	default:
		return false
	}
}

func (k BudgetKind) IsValid() bool {
	return k == KindMonthly || k == KindWeekly
}

func (a CategoryAllocation) Key() string {
	return CategoryKey(a.CategoryID, a.CategoryLabel)
}

func (in AllocationInput) Key() string {
	return CategoryKey(in.CategoryID, in.CategoryLabel)
}

func (in AllocationInput) Validate() error {
	if strings.TrimSpace(in.OwnerID) == "" {
		return ErrNotAuthenticated
	}
	if in.Period.IsZero() {
		return ErrInvalidPeriod
	}
	if in.Key() == "" {
		return Validationf("categoria o nome della busta obbligatori")
	}
	if in.Planned.IsNegative() {
		return Validationf("l'importo pianificato non può essere negativo")
	}
	if len(in.Note) > 500 {
		return Validationf("nota troppo lunga (massimo 500 caratteri)")
	}
	return nil
}

func (w WeeklyAllocation) Key() string {
	return CategoryKey(w.CategoryID, w.CategoryLabel)
}

// Range returns the full seven-day span of the week.
func (w WeeklyAllocation) Range() DateRange {
	return WeekRange(w.WeekStart)
}

func (w WeeklyAllocation) Validate() error {
	if strings.TrimSpace(w.OwnerID) == "" {
		return ErrNotAuthenticated
	}
	if w.WeekStart.IsZero() {
		return Validationf("inizio settimana obbligatorio")
	}
	if w.Key() == "" {
		return Validationf("categoria o nome della busta obbligatori")
	}
	if w.Planned.IsNegative() {
		return Validationf("l'importo pianificato non può essere negativo")
	}
	return nil
}

func (t TransactionRecord) Key() string {
	return CategoryKey(t.CategoryID, t.CategoryLabel)
}

func (t TransactionRecord) Deleted() bool {
	return t.DeletedAt != nil
}

// Countable reports whether the record takes part in spend computations.
func (t TransactionRecord) Countable() bool {
	return !t.Deleted() && t.Type != Transfer
}

// Magnitude returns the unsigned amount; expenses may be stored signed.
func (t TransactionRecord) Magnitude() decimal.Decimal {
	return t.Amount.Abs()
}

func (h HighlightSelection) Matches(kind BudgetKind, budgetID string) bool {
	return h.Kind == kind && h.BudgetID == budgetID
}
