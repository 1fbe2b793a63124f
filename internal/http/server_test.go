package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/memory"
	"bilancio/internal/services"
)

var fixedNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, store *memory.Store, opts Options) *Server {
	t.Helper()
	opts.Engine = services.NewEngine(store, nil)
	opts.Logger = applog.New(applog.Config{Output: io.Discard})
	opts.Now = func() time.Time { return fixedNow }
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.limiter.Stop)
	return srv
}

func do(t *testing.T, srv *Server, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := core.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, "", ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	failing := newTestServer(t, memory.New(), Options{Health: func(context.Context) error { return errors.New("db down") }})
	rr := do(t, failing, http.MethodGet, "/readyz", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
}

func TestResponseHeaders(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_fromgateway")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req_fromgateway" {
		t.Fatalf("request id = %q", got)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing security headers: %v", rr.Header())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})
	tests := []struct {
		name   string
		method string
		path   string
		owner  string
		body   string
		status int
		code   string
	}{
		{"missing owner", http.MethodGet, "/budgets?period=2024-03", "", "", http.StatusUnauthorized, "not_authenticated"},
		{"missing owner before body", http.MethodPut, "/budgets", "", `{"bogus":1}`, http.StatusUnauthorized, "not_authenticated"},
		{"missing owner before week", http.MethodPut, "/weekly", "", `{"week_start":"soon"}`, http.StatusUnauthorized, "not_authenticated"},
		{"missing owner before toggle", http.MethodPost, "/highlights/toggle", "", "", http.StatusUnauthorized, "not_authenticated"},
		{"missing owner before filter", http.MethodGet, "/calendar?mode=weird", "", "", http.StatusUnauthorized, "not_authenticated"},
		{"bad period", http.MethodGet, "/budgets?period=2024-13", "u1", "", http.StatusUnprocessableEntity, "invalid_period"},
		{"negative plan", http.MethodPut, "/budgets", "u1", `{"period":"2024-03","category_id":"food","planned":"-5"}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"unknown field", http.MethodPut, "/budgets", "u1", `{"period":"2024-03","bogus":1}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"empty body", http.MethodPut, "/weekly", "u1", "", http.StatusUnprocessableEntity, "validation_failed"},
		{"missing budget", http.MethodGet, "/budgets/nope", "u1", "", http.StatusNotFound, "not_found"},
		{"bad mode", http.MethodGet, "/calendar?mode=weird", "u1", "", http.StatusUnprocessableEntity, "validation_failed"},
		{"unknown route", http.MethodGet, "/nowhere", "u1", "", http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodPost, "/budgets", "u1", "{}", http.StatusMethodNotAllowed, "method_not_allowed"},
		{"scanner path", http.MethodGet, "/.env", "", "", http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, tt.method, tt.path, tt.owner, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status=%d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			body := decodeBody[errorBody](t, rr)
			if body.Code != tt.code || body.Error == "" {
				t.Fatalf("unexpected error body %+v", body)
			}
			if strings.Contains(body.Error, core.ErrValidation.Error()) {
				t.Fatalf("error message leaks the internal reason: %q", body.Error)
			}
		})
	}
}

func TestBudgetsFlow(t *testing.T) {
	store := memory.New()
	srv := newTestServer(t, store, Options{})

	rr := do(t, srv, http.MethodPut, "/budgets", "u1", `{"period":"2024-02","category_id":"food","planned":"300","carryover":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status=%d body=%s", rr.Code, rr.Body.String())
	}
	created := decodeBody[allocationDTO](t, rr)
	if created.ID == "" || created.Period != "2024-02" || created.CategoryKey != "food" {
		t.Fatalf("unexpected allocation %+v", created)
	}

	store.AddTransactions(core.TransactionRecord{
		OwnerID: "u1", Date: mustDate(t, "2024-03-04"), Type: core.Expense,
		CategoryID: "food", Amount: decimal.RequireFromString("-120"),
	})

	// no period means the current month; the carryover flag copies February
	rr = do(t, srv, http.MethodGet, "/budgets", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	list := decodeBody[[]budgetStatusDTO](t, rr)
	if len(list) != 1 || list[0].Allocation.Period != "2024-03" {
		t.Fatalf("expected carried allocation for 2024-03, got %+v", list)
	}
	if !list[0].Spent.Equal(decimal.NewFromInt(120)) || !list[0].Remaining.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("unexpected status %+v", list[0])
	}

	rr = do(t, srv, http.MethodGet, "/budgets/summary?period=2024-03", "u1", "")
	summary := decodeBody[summaryDTO](t, rr)
	if !summary.PlannedTotal.Equal(decimal.NewFromInt(300)) || summary.Percentage != 0.4 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rr = do(t, srv, http.MethodGet, "/budgets/"+list[0].Allocation.ID, "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/budgets/"+list[0].Allocation.ID, "u2", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("other owner must not see the budget, status=%d", rr.Code)
	}
}

func TestWeeklyFlow(t *testing.T) {
	store := memory.New()
	srv := newTestServer(t, store, Options{})

	rr := do(t, srv, http.MethodPut, "/weekly", "u1", `{"category_label":"Trasporti","planned":"100","week_start":"2024-02-28"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status=%d body=%s", rr.Code, rr.Body.String())
	}
	saved := decodeBody[weeklyDTO](t, rr)
	if saved.WeekStart != "2024-02-26" || saved.CategoryKey != "label:trasporti" {
		t.Fatalf("unexpected weekly %+v", saved)
	}

	rr = do(t, srv, http.MethodGet, "/weekly?period=2024-02", "u1", "")
	month := decodeBody[weeklyMonthDTO](t, rr)
	if month.Status != core.FeatureAvailable || len(month.Weeks) != 1 || month.Weeks[0].WeekEnd != "2024-02-29" {
		t.Fatalf("unexpected month %+v", month)
	}

	rr = do(t, srv, http.MethodPut, "/weekly", "u1", `{"id":"`+saved.ID+`","category_label":"Trasporti","planned":"150","week_start":"2024-02-27"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit status=%d body=%s", rr.Code, rr.Body.String())
	}
	if edited := decodeBody[weeklyDTO](t, rr); edited.ID != saved.ID || !edited.Planned.Equal(decimal.NewFromInt(150)) || edited.WeekStart != "2024-02-26" {
		t.Fatalf("unexpected edited weekly %+v", edited)
	}
	rr = do(t, srv, http.MethodGet, "/weekly?period=2024-02", "u1", "")
	month = decodeBody[weeklyMonthDTO](t, rr)
	if len(month.Weeks) != 1 || len(month.Categories) != 1 || month.Categories[0].Weeks != 1 ||
		!month.Categories[0].PlannedTotal.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("edit must update in place, got %+v", month)
	}

	if rr := do(t, srv, http.MethodPut, "/weekly", "u1", `{"id":"nope","category_label":"Trasporti","planned":"1","week_start":"2024-02-26"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("edit of unknown id status=%d, want 404", rr.Code)
	}
	if rr := do(t, srv, http.MethodPut, "/weekly", "u2", `{"id":"`+saved.ID+`","category_label":"Trasporti","planned":"1","week_start":"2024-02-26"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("edit by other owner status=%d, want 404", rr.Code)
	}

	if rr := do(t, srv, http.MethodDelete, "/weekly/"+saved.ID, "u1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/weekly/"+saved.ID, "u1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", rr.Code)
	}

	store.DisableWeekly()
	rr = do(t, srv, http.MethodGet, "/weekly?period=2024-02", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unavailable weekly must not fail, status=%d", rr.Code)
	}
	if month := decodeBody[weeklyMonthDTO](t, rr); month.Status != core.FeatureUnavailable || month.Weeks == nil {
		t.Fatalf("unexpected month %+v", month)
	}
}

func TestHighlightsFlow(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{})

	rr := do(t, srv, http.MethodPut, "/budgets", "u1", `{"period":"2024-03","category_id":"food","planned":"200"}`)
	budget := decodeBody[allocationDTO](t, rr)

	steps := []struct {
		body   string
		status int
		result string
	}{
		{`{"kind":"monthly","budget_id":"` + budget.ID + `"}`, http.StatusOK, "added"},
		{`{"kind":"weekly","budget_id":"gone"}`, http.StatusOK, "added"},
		{`{"kind":"monthly","budget_id":"other"}`, http.StatusConflict, ""},
		{`{"kind":"yearly","budget_id":"x"}`, http.StatusUnprocessableEntity, ""},
	}
	for i, s := range steps {
		rr := do(t, srv, http.MethodPost, "/highlights/toggle", "u1", s.body)
		if rr.Code != s.status {
			t.Fatalf("step %d: status=%d, want %d (%s)", i, rr.Code, s.status, rr.Body.String())
		}
		if s.result != "" {
			if got := decodeBody[toggleResponse](t, rr); string(got.Result) != s.result {
				t.Fatalf("step %d: result=%s", i, got.Result)
			}
		}
	}

	rr = do(t, srv, http.MethodGet, "/highlights/selections", "u1", "")
	if sel := decodeBody[[]highlightDTO](t, rr); len(sel) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(sel))
	}

	rr = do(t, srv, http.MethodGet, "/highlights", "u1", "")
	resolved := decodeBody[[]resolvedHighlightDTO](t, rr)
	if len(resolved) != 1 || resolved[0].Monthly == nil || resolved[0].Monthly.Allocation.ID != budget.ID {
		t.Fatalf("dangling weekly selection must be skipped, got %+v", resolved)
	}
}

func TestCalendar(t *testing.T) {
	store := memory.New()
	store.AddTransactions(
		core.TransactionRecord{OwnerID: "u1", Date: mustDate(t, "2024-03-01"), Type: core.Expense, CategoryID: "food", Amount: decimal.NewFromInt(40), Title: "Mercato"},
		core.TransactionRecord{OwnerID: "u1", Date: mustDate(t, "2024-03-02"), Type: core.Expense, CategoryID: "fun", Amount: decimal.NewFromInt(10)},
		core.TransactionRecord{OwnerID: "u1", Date: mustDate(t, "2024-03-02"), Type: core.Income, CategoryID: "salary", Amount: decimal.NewFromInt(900)},
	)
	srv := newTestServer(t, store, Options{})

	rr := do(t, srv, http.MethodGet, "/calendar?period=2024-03&mode=all", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	cal := decodeBody[calendarDTO](t, rr)
	if len(cal.Days) != 2 || cal.Days["2024-03-01"].Level != 5 || cal.Totals.Count != 3 {
		t.Fatalf("unexpected calendar %+v", cal)
	}

	rr = do(t, srv, http.MethodGet, "/calendar?period=2024-03&category=fun,food&min=20", "u1", "")
	cal = decodeBody[calendarDTO](t, rr)
	if len(cal.Days) != 1 || !cal.Totals.Expense.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected filtered calendar %+v", cal)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, memory.New(), Options{RequestsPerMinute: 1})
	if rr := do(t, srv, http.MethodGet, "/budgets?period=2024-03", "u1", ""); rr.Code != http.StatusOK {
		t.Fatalf("first request status=%d", rr.Code)
	}
	rr := do(t, srv, http.MethodGet, "/budgets?period=2024-03", "u1", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d, want 429", rr.Code)
	}
	if body := decodeBody[errorBody](t, rr); body.Code != "rate_limited" {
		t.Fatalf("unexpected body %+v", body)
	}
	if rr := do(t, srv, http.MethodGet, "/healthz", "u1", ""); rr.Code != http.StatusOK {
		t.Fatal("health checks are not rate limited")
	}
}
