// This file implements parsing of owner, period, filters and JSON bodies.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
)

const (
	// OwnerHeader carries the authenticated owner set by the upstream gateway.
	OwnerHeader = "X-Owner-ID"

	maxBodyBytes   = 1 << 20
	maxOwnerLength = 128
)

// ownerID returns the sanitized owner or "" when absent. The engine turns
// "" into core.ErrNotAuthenticated.
func ownerID(r *http.Request) string {
	owner := sanitizeInput(r.Header.Get(OwnerHeader))
	if len(owner) > maxOwnerLength {
		return ""
	}
	return owner
}

// requireOwner writes a 401 and reports false when the request carries no
// owner, so handlers can reject it before reading the body.
func requireOwner(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	owner := ownerID(r)
	if owner == "" {
		writeError(r.Context(), w, op, core.ErrNotAuthenticated)
		return "", false
	}
	return owner, true
}

// periodParam returns the "period" query value, defaulting to the month
// containing now.
func periodParam(query url.Values, now time.Time) string {
	if p := sanitizeInput(query.Get("period")); p != "" {
		return p
	}
	return core.PeriodOf(now).String()
}

// ParseCalendarFilter reads mode, category, account, min, max and q.
// category may repeat or hold a comma-separated list.
func ParseCalendarFilter(query url.Values) (core.CalendarFilter, error) {
	f := core.CalendarFilter{
		Mode:      core.ModeExpenseOnly,
		AccountID: sanitizeInput(query.Get("account")),
		Search:    sanitizeInput(query.Get("q")),
	}

	switch mode := core.CalendarMode(sanitizeInput(query.Get("mode"))); mode {
	case "", core.ModeExpenseOnly:
	case core.ModeExpenseAndIncome:
		f.Mode = mode
	default:
		return core.CalendarFilter{}, core.Validationf("modalità sconosciuta %q", mode)
	}

	for _, raw := range query["category"] {
		for _, id := range strings.Split(raw, ",") {
			if id = sanitizeInput(id); id != "" {
				f.CategoryIDs = append(f.CategoryIDs, id)
			}
		}
	}

	var err error
	if f.MinAmount, err = amountParam(query, "min"); err != nil {
		return core.CalendarFilter{}, err
	}
	if f.MaxAmount, err = amountParam(query, "max"); err != nil {
		return core.CalendarFilter{}, err
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MinAmount.GreaterThan(*f.MaxAmount) {
		return core.CalendarFilter{}, core.Validationf("min non può superare max")
	}
	return f, nil
}

func amountParam(query url.Values, key string) (*decimal.Decimal, error) {
	raw := sanitizeInput(query.Get(key))
	if raw == "" {
		return nil, nil
	}
	d, err := core.ParseAmount(raw)
	if err != nil {
		return nil, core.Validationf("%s: importo non valido", key)
	}
	return &d, nil
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and bodies over maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return core.Validationf("corpo della richiesta troppo grande")
		case errors.Is(err, io.EOF):
			return core.Validationf("corpo della richiesta vuoto")
		default:
			return core.Validationf("JSON non valido")
		}
	}
	if dec.More() {
		return core.Validationf("il corpo deve contenere un solo oggetto JSON")
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
