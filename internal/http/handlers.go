package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
)

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.engine.Ledger.ListWithSpent(r.Context(), ownerID(r), periodParam(r.URL.Query(), s.now()))
	if err != nil {
		writeError(r.Context(), w, applog.OpListBudgets, err)
		return
	}
	out := make([]budgetStatusDTO, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, toBudgetStatusDTO(st))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleBudgetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Ledger.Summary(r.Context(), ownerID(r), periodParam(r.URL.Query(), s.now()))
	if err != nil {
		writeError(r.Context(), w, applog.OpBudgetSummary, err)
		return
	}
	NewJSONResponse().Body(toSummaryDTO(summary)).Write(w)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Ledger.Get(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, applog.OpGetBudget, err)
		return
	}
	NewJSONResponse().Body(toBudgetStatusDTO(st)).Write(w)
}

func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r, applog.OpUpsertBudget)
	if !ok {
		return
	}
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, applog.OpUpsertBudget, err)
		return
	}
	period, err := core.ParsePeriod(strings.TrimSpace(req.Period))
	if err != nil {
		writeError(r.Context(), w, applog.OpUpsertBudget, err)
		return
	}
	saved, err := s.engine.Ledger.Upsert(r.Context(), core.AllocationInput{
		OwnerID:       owner,
		Period:        period,
		CategoryID:    sanitizeInput(req.CategoryID),
		CategoryLabel: sanitizeInput(req.CategoryLabel),
		Planned:       req.Planned,
		Carryover:     req.Carryover,
		Note:          sanitizeInput(req.Note),
	})
	if err != nil {
		writeError(r.Context(), w, applog.OpUpsertBudget, err)
		return
	}
	NewJSONResponse().Body(toAllocationDTO(saved)).Write(w)
}

func (s *Server) handleWeeklyMonth(w http.ResponseWriter, r *http.Request) {
	month, err := s.engine.Weekly.Month(r.Context(), ownerID(r), periodParam(r.URL.Query(), s.now()))
	if err != nil {
		writeError(r.Context(), w, applog.OpWeeklyMonth, err)
		return
	}
	NewJSONResponse().Body(toWeeklyMonthDTO(month)).Write(w)
}

func (s *Server) handleGetWeekly(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Weekly.Get(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, applog.OpGetWeekly, err)
		return
	}
	NewJSONResponse().Body(toWeeklyStatusDTO(st)).Write(w)
}

func (s *Server) handleUpsertWeekly(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r, applog.OpUpsertWeekly)
	if !ok {
		return
	}
	var req weeklyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, applog.OpUpsertWeekly, err)
		return
	}
	start, err := core.ParseDate(req.WeekStart)
	if err != nil {
		writeError(r.Context(), w, applog.OpUpsertWeekly, core.Validationf("week_start deve essere nel formato AAAA-MM-GG"))
		return
	}
	saved, err := s.engine.Weekly.Upsert(r.Context(), core.WeeklyAllocation{
		ID:            sanitizeInput(req.ID),
		OwnerID:       owner,
		CategoryID:    sanitizeInput(req.CategoryID),
		CategoryLabel: sanitizeInput(req.CategoryLabel),
		Planned:       req.Planned,
		Note:          sanitizeInput(req.Note),
		WeekStart:     start,
	})
	if err != nil {
		writeError(r.Context(), w, applog.OpUpsertWeekly, err)
		return
	}
	NewJSONResponse().Body(toWeeklyDTO(saved)).Write(w)
}

func (s *Server) handleDeleteWeekly(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Weekly.Delete(r.Context(), ownerID(r), chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, applog.OpDeleteWeekly, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleResolvedHighlights(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.engine.ResolveHighlights(r.Context(), ownerID(r))
	if err != nil {
		writeError(r.Context(), w, applog.OpResolveHighlights, err)
		return
	}
	out := make([]resolvedHighlightDTO, 0, len(resolved))
	for _, h := range resolved {
		out = append(out, toResolvedHighlightDTO(h))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleListHighlights(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Highlights.List(r.Context(), ownerID(r))
	if err != nil {
		writeError(r.Context(), w, applog.OpListHighlights, err)
		return
	}
	out := make([]highlightDTO, 0, len(list))
	for _, h := range list {
		out = append(out, toHighlightDTO(h))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleToggleHighlight(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r, applog.OpToggleHighlight)
	if !ok {
		return
	}
	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, applog.OpToggleHighlight, err)
		return
	}
	budgetID := sanitizeInput(req.BudgetID)
	result, err := s.engine.Highlights.Toggle(r.Context(), owner, req.Kind, budgetID)
	if err != nil {
		writeError(r.Context(), w, applog.OpToggleHighlight, err)
		return
	}
	NewJSONResponse().Body(toggleResponse{Result: result, Kind: req.Kind, BudgetID: budgetID}).Write(w)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r, applog.OpCalendar)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter, err := ParseCalendarFilter(query)
	if err != nil {
		writeError(r.Context(), w, applog.OpCalendar, err)
		return
	}
	res, err := s.engine.Calendar.MonthAggregates(r.Context(), owner, periodParam(query, s.now()), filter)
	if err != nil {
		writeError(r.Context(), w, applog.OpCalendar, err)
		return
	}
	NewJSONResponse().Body(toCalendarDTO(res)).Write(w)
}
