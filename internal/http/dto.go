package http

import (
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/services"
)

// Amounts are encoded as JSON strings by decimal.Decimal.

type budgetRequest struct {
	Period        string          `json:"period"`
	CategoryID    string          `json:"category_id"`
	CategoryLabel string          `json:"category_label"`
	Planned       decimal.Decimal `json:"planned"`
	Carryover     bool            `json:"carryover"`
	Note          string          `json:"note"`
}

type weeklyRequest struct {
	ID            string          `json:"id"`
	CategoryID    string          `json:"category_id"`
	CategoryLabel string          `json:"category_label"`
	Planned       decimal.Decimal `json:"planned"`
	Note          string          `json:"note"`
	WeekStart     string          `json:"week_start"`
}

type toggleRequest struct {
	Kind     core.BudgetKind `json:"kind"`
	BudgetID string          `json:"budget_id"`
}

type (
	allocationDTO struct {
		ID            string          `json:"id"`
		Period        string          `json:"period"`
		CategoryKey   string          `json:"category_key"`
		CategoryID    string          `json:"category_id,omitempty"`
		CategoryLabel string          `json:"category_label,omitempty"`
		Planned       decimal.Decimal `json:"planned"`
		Carryover     bool            `json:"carryover"`
		RolloverIn    decimal.Decimal `json:"rollover_in"`
		RolloverOut   decimal.Decimal `json:"rollover_out"`
		Note          string          `json:"note,omitempty"`
		CreatedAt     time.Time       `json:"created_at"`
		UpdatedAt     time.Time       `json:"updated_at"`
	}

	budgetStatusDTO struct {
		Allocation allocationDTO   `json:"allocation"`
		Spent      decimal.Decimal `json:"spent"`
		Remaining  decimal.Decimal `json:"remaining"`
		Percentage float64         `json:"percentage"`
	}

	summaryDTO struct {
		Period         string          `json:"period"`
		PlannedTotal   decimal.Decimal `json:"planned_total"`
		SpentTotal     decimal.Decimal `json:"spent_total"`
		RemainingTotal decimal.Decimal `json:"remaining_total"`
		Percentage     float64         `json:"percentage"`
	}

	weeklyDTO struct {
		ID            string          `json:"id"`
		CategoryKey   string          `json:"category_key"`
		CategoryID    string          `json:"category_id,omitempty"`
		CategoryLabel string          `json:"category_label,omitempty"`
		Planned       decimal.Decimal `json:"planned"`
		Note          string          `json:"note,omitempty"`
		WeekStart     string          `json:"week_start"`
		CreatedAt     time.Time       `json:"created_at"`
		UpdatedAt     time.Time       `json:"updated_at"`
	}

	weeklyStatusDTO struct {
		Allocation weeklyDTO       `json:"allocation"`
		WeekStart  string          `json:"week_start"`
		WeekEnd    string          `json:"week_end"`
		Actual     decimal.Decimal `json:"actual"`
		Remaining  decimal.Decimal `json:"remaining"`
		Percentage float64         `json:"percentage"`
	}

	categoryWeeklyDTO struct {
		CategoryKey   string          `json:"category_key"`
		CategoryID    string          `json:"category_id,omitempty"`
		CategoryLabel string          `json:"category_label,omitempty"`
		Weeks         int             `json:"weeks"`
		PlannedTotal  decimal.Decimal `json:"planned_total"`
		ActualTotal   decimal.Decimal `json:"actual_total"`
		Remaining     decimal.Decimal `json:"remaining"`
		Percentage    float64         `json:"percentage"`
	}

	weeklyMonthDTO struct {
		Period     string              `json:"period"`
		Status     core.FeatureStatus  `json:"status"`
		Weeks      []weeklyStatusDTO   `json:"weeks"`
		Categories []categoryWeeklyDTO `json:"categories"`
	}

	highlightDTO struct {
		ID        string          `json:"id"`
		Kind      core.BudgetKind `json:"kind"`
		BudgetID  string          `json:"budget_id"`
		CreatedAt time.Time       `json:"created_at"`
	}

	resolvedHighlightDTO struct {
		Selection highlightDTO     `json:"selection"`
		Monthly   *budgetStatusDTO `json:"monthly,omitempty"`
		Weekly    *weeklyStatusDTO `json:"weekly,omitempty"`
	}

	toggleResponse struct {
		Result   services.ToggleResult `json:"result"`
		Kind     core.BudgetKind       `json:"kind"`
		BudgetID string                `json:"budget_id"`
	}

	dayDTO struct {
		Date    string          `json:"date"`
		Expense decimal.Decimal `json:"expense"`
		Income  decimal.Decimal `json:"income"`
		Count   int             `json:"count"`
		Level   int             `json:"level"`
	}

	calendarDTO struct {
		Period    string            `json:"period"`
		Days      map[string]dayDTO `json:"days"`
		Threshold decimal.Decimal   `json:"threshold"`
		Totals    struct {
			Expense decimal.Decimal `json:"expense"`
			Income  decimal.Decimal `json:"income"`
			Count   int             `json:"count"`
		} `json:"totals"`
	}
)

func toAllocationDTO(a core.CategoryAllocation) allocationDTO {
	return allocationDTO{
		ID:            a.ID,
		Period:        a.Period.String(),
		CategoryKey:   a.Key(),
		CategoryID:    a.CategoryID,
		CategoryLabel: a.CategoryLabel,
		Planned:       a.Planned,
		Carryover:     a.Carryover,
		RolloverIn:    a.RolloverIn,
		RolloverOut:   a.RolloverOut,
		Note:          a.Note,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toBudgetStatusDTO(s core.BudgetStatus) budgetStatusDTO {
	return budgetStatusDTO{
		Allocation: toAllocationDTO(s.Allocation),
		Spent:      s.Spent,
		Remaining:  s.Remaining,
		Percentage: s.Percentage,
	}
}

func toSummaryDTO(s core.LedgerSummary) summaryDTO {
	return summaryDTO{
		Period:         s.Period.String(),
		PlannedTotal:   s.PlannedTotal,
		SpentTotal:     s.SpentTotal,
		RemainingTotal: s.RemainingTotal,
		Percentage:     s.Percentage,
	}
}

func toWeeklyDTO(w core.WeeklyAllocation) weeklyDTO {
	return weeklyDTO{
		ID:            w.ID,
		CategoryKey:   w.Key(),
		CategoryID:    w.CategoryID,
		CategoryLabel: w.CategoryLabel,
		Planned:       w.Planned,
		Note:          w.Note,
		WeekStart:     core.FormatDate(w.WeekStart),
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func toWeeklyStatusDTO(s core.WeeklyStatus) weeklyStatusDTO {
	return weeklyStatusDTO{
		Allocation: toWeeklyDTO(s.Allocation),
		WeekStart:  core.FormatDate(s.WeekStart),
		WeekEnd:    core.FormatDate(s.WeekEnd),
		Actual:     s.Actual,
		Remaining:  s.Remaining,
		Percentage: s.Percentage,
	}
}

func toWeeklyMonthDTO(m core.WeeklyMonth) weeklyMonthDTO {
	out := weeklyMonthDTO{
		Period:     m.Period.String(),
		Status:     m.Status,
		Weeks:      make([]weeklyStatusDTO, 0, len(m.Weeks)),
		Categories: make([]categoryWeeklyDTO, 0, len(m.Categories)),
	}
	for _, w := range m.Weeks {
		out.Weeks = append(out.Weeks, toWeeklyStatusDTO(w))
	}
	for _, c := range m.Categories {
		out.Categories = append(out.Categories, categoryWeeklyDTO{
			CategoryKey:   c.CategoryKey,
			CategoryID:    c.CategoryID,
			CategoryLabel: c.CategoryLabel,
			Weeks:         c.Weeks,
			PlannedTotal:  c.PlannedTotal,
			ActualTotal:   c.ActualTotal,
			Remaining:     c.Remaining,
			Percentage:    c.Percentage,
		})
	}
	return out
}

func toHighlightDTO(h core.HighlightSelection) highlightDTO {
	return highlightDTO{ID: h.ID, Kind: h.Kind, BudgetID: h.BudgetID, CreatedAt: h.CreatedAt}
}

func toResolvedHighlightDTO(r services.ResolvedHighlight) resolvedHighlightDTO {
	out := resolvedHighlightDTO{Selection: toHighlightDTO(r.Selection)}
	if r.Monthly != nil {
		m := toBudgetStatusDTO(*r.Monthly)
		out.Monthly = &m
	}
	if r.Weekly != nil {
		w := toWeeklyStatusDTO(*r.Weekly)
		out.Weekly = &w
	}
	return out
}

func toCalendarDTO(res core.MonthAggregateResult) calendarDTO {
	out := calendarDTO{
		Period:    res.Period.String(),
		Days:      make(map[string]dayDTO, len(res.Days)),
		Threshold: res.Threshold,
	}
	for key, d := range res.Days {
		out.Days[key] = dayDTO{
			Date:    key,
			Expense: d.Expense,
			Income:  d.Income,
			Count:   d.Count,
			Level:   d.Level,
		}
	}
	out.Totals.Expense = res.Totals.Expense
	out.Totals.Income = res.Totals.Income
	out.Totals.Count = res.Totals.Count
	return out
}
