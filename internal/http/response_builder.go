// This file implements a small builder for JSON responses and the mapping
// from engine errors to status codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil payload writes
// no body.
func (b *JSONResponseBuilder) Body(payload any) *JSONResponseBuilder {
	b.payload = payload
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	body, err := json.Marshal(b.payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"` + core.GenericErrorMessage + `"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorResponse creates an error response carrying a display-safe message.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: message, Code: code})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

func MethodNotAllowedError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, "method_not_allowed", "Metodo non consentito.")
}

func NotFoundRoute() *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, "not_found", "Risorsa non trovata.")
}

func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "rate_limited", "Troppe richieste. Riprova tra un minuto.")
}

// statusFor maps the error taxonomy to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, core.ErrInvalidPeriod):
		return http.StatusUnprocessableEntity, "invalid_period"
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, core.ErrLimitReached):
		return http.StatusConflict, "limit_reached"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrFeatureUnavailable):
		return http.StatusServiceUnavailable, "feature_unavailable"
	case core.IsStoreFailure(err):
		return http.StatusInternalServerError, "store_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError renders err and logs server-side failures. Client errors are
// already covered by the request log.
func writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		fields := applog.NewFields().WithOperation(op).WithError(err)
		applog.FromContext(ctx).ErrorContext(ctx, "Request failed", fields.ToSlice()...)
	}
	ErrorResponse(status, code, core.UserMessage(err)).Write(w)
}
