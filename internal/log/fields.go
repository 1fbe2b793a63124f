package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldOwnerID     = "owner_id"
	FieldPeriod      = "period"
	FieldCategoryKey = "category_key"
	FieldBudgetKind  = "budget_kind"
	FieldBudgetID    = "budget_id"
	FieldEventType   = "event_type"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentWeekly    = "weekly"
	ComponentHighlight = "highlight"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentCache     = "cache"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpPublish  = "publish"
	OpMigrate  = "migrate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"

	// API operations, one per route.
	OpListBudgets       = "budgets.list"
	OpBudgetSummary     = "budgets.summary"
	OpGetBudget         = "budgets.get"
	OpUpsertBudget      = "budgets.upsert"
	OpWeeklyMonth       = "weekly.month"
	OpGetWeekly         = "weekly.get"
	OpUpsertWeekly      = "weekly.upsert"
	OpDeleteWeekly      = "weekly.delete"
	OpResolveHighlights = "highlights.resolve"
	OpListHighlights    = "highlights.list"
	OpToggleHighlight   = "highlights.toggle"
	OpCalendar          = "calendar.month"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error message; nil errors are ignored.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithScope adds the owner and period an accounting operation runs on.
func (f LogFields) WithScope(ownerID, period string) LogFields {
	if ownerID != "" {
		f[FieldOwnerID] = ownerID
	}
	if period != "" {
		f[FieldPeriod] = period
	}
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
