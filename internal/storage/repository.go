package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/cache"
	"bilancio/internal/core"

	_ "modernc.org/sqlite"
)

const (
	weeklyTable       = "weekly_budgets"
	highlightLimitMsg = "highlight limit reached"
)

// SQLiteRepository implements ports.Store on a single SQLite file.
type SQLiteRepository struct {
	db       *sql.DB
	now      func() time.Time
	features *cache.LRUCache[bool]
}

// Options tune a repository. The zero value is usable.
type Options struct {
	// FeatureProbeTTL bounds how long a schema probe result is trusted.
	FeatureProbeTTL time.Duration
	Now             func() time.Time
}

func NewSQLiteRepository(dbPath string, opts Options) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	ttl := opts.FeatureProbeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &SQLiteRepository{
		db:       db,
		now:      now,
		features: cache.NewLRUCache[bool](8, ttl),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// FeatureCache exposes the probe cache so it can be registered for cleanup.
func (r *SQLiteRepository) FeatureCache() *cache.LRUCache[bool] {
	return r.features
}

// hasTable reports whether name exists, consulting the probe cache first.
func (r *SQLiteRepository) hasTable(ctx context.Context, name string) (bool, error) {
	return r.features.GetOrLoad(name, func() (bool, error) {
		var n int
		err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("probe table %s: %w", name, err)
		}
		return n > 0, nil
	})
}

func (r *SQLiteRepository) requireWeekly(ctx context.Context) error {
	ok, err := r.hasTable(ctx, weeklyTable)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrFeatureUnavailable
	}
	return nil
}

// InsertTransaction stores a ledger row. Transactions are owned by the
// recording side of the app; this is its write path into the shared file.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.TransactionRecord) (core.TransactionRecord, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if !t.Type.IsValid() {
		return core.TransactionRecord{}, core.Validationf("tipo di transazione sconosciuto %q", t.Type)
	}
	t.Date = core.DateOnly(t.Date)

	var deletedAt sql.NullString
	if t.DeletedAt != nil {
		deletedAt = sql.NullString{String: formatTimestamp(*t.DeletedAt), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, core.FormatDate(t.Date), string(t.Type), t.Amount.String(),
		t.CategoryID, t.CategoryLabel, t.AccountID, t.Title, t.Note, t.Merchant, deletedAt)
	if err != nil {
		return core.TransactionRecord{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

// FindTransactions pushes owner, date, type, category and account filters
// into SQL; amount bounds and search are applied on the decoded rows.
func (r *SQLiteRepository) FindTransactions(ctx context.Context, ownerID string, rng core.DateRange, f core.TransactionFilter) ([]core.TransactionRecord, error) {
	var (
		where = []string{"owner_id = ?", "deleted_at IS NULL", "date >= ?", "date < ?"}
		args  = []any{ownerID, core.FormatDate(rng.Start), core.FormatDate(rng.End)}
	)
	if len(f.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.CategoryIDs) > 0 {
		where = append(where, "category_id IN ("+placeholders(len(f.CategoryIDs))+")")
		for _, c := range f.CategoryIDs {
			args = append(args, c)
		}
	}
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE `+strings.Join(where, " AND ")+` ORDER BY date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.TransactionRecord
	for rows.Next() {
		t, err := scanTransaction(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListAllocations(ctx context.Context, ownerID string, p core.Period) ([]core.CategoryAllocation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+allocationColumns+` FROM budgets
		WHERE owner_id = ? AND period = ? ORDER BY created_at, category_key`, ownerID, p.String())
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryAllocation
	for rows.Next() {
		a, err := scanAllocation(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budgets: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetAllocation(ctx context.Context, ownerID, id string) (core.CategoryAllocation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM budgets WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanAllocation(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CategoryAllocation{}, fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.CategoryAllocation{}, fmt.Errorf("get budget: %w", err)
	}
	return a, nil
}

// UpsertAllocation writes on the (owner, period, category key) identity, so
// concurrent carryover writers converge on one row.
func (r *SQLiteRepository) UpsertAllocation(ctx context.Context, in core.AllocationInput) (core.CategoryAllocation, error) {
	if err := in.Validate(); err != nil {
		return core.CategoryAllocation{}, err
	}
	now := formatTimestamp(r.now())
	row := r.db.QueryRowContext(ctx, `INSERT INTO budgets
		(id, owner_id, period, category_id, category_label, category_key, planned, carryover, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, period, category_key) DO UPDATE SET
			category_label = excluded.category_label,
			planned        = excluded.planned,
			carryover      = excluded.carryover,
			note           = excluded.note,
			updated_at     = excluded.updated_at
		RETURNING `+allocationColumns,
		uuid.NewString(), in.OwnerID, in.Period.String(), in.CategoryID, in.CategoryLabel, in.Key(),
		in.Planned.String(), boolToInt(in.Carryover), in.Note, now, now)
	a, err := scanAllocation(ctx, row)
	if err != nil {
		return core.CategoryAllocation{}, fmt.Errorf("upsert budget: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListWeekly(ctx context.Context, ownerID string, rng core.DateRange) ([]core.WeeklyAllocation, error) {
	if err := r.requireWeekly(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+weeklyColumns+` FROM weekly_budgets
		WHERE owner_id = ? AND week_start >= ? AND week_start < ?
		ORDER BY week_start, category_id, category_label`,
		ownerID, core.FormatDate(rng.Start), core.FormatDate(rng.End))
	if err != nil {
		return nil, fmt.Errorf("query weekly budgets: %w", err)
	}
	defer rows.Close()

	var out []core.WeeklyAllocation
	for rows.Next() {
		w, err := scanWeekly(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("scan weekly budget: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weekly budgets: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetWeekly(ctx context.Context, ownerID, id string) (core.WeeklyAllocation, error) {
	if err := r.requireWeekly(ctx); err != nil {
		return core.WeeklyAllocation{}, err
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+weeklyColumns+` FROM weekly_budgets WHERE id = ? AND owner_id = ?`, id, ownerID)
	w, err := scanWeekly(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.WeeklyAllocation{}, fmt.Errorf("weekly budget %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.WeeklyAllocation{}, fmt.Errorf("get weekly budget: %w", err)
	}
	return w, nil
}

// UpsertWeekly inserts when w.ID is empty and updates the owner's row
// otherwise.
func (r *SQLiteRepository) UpsertWeekly(ctx context.Context, w core.WeeklyAllocation) (core.WeeklyAllocation, error) {
	if err := r.requireWeekly(ctx); err != nil {
		return core.WeeklyAllocation{}, err
	}
	w.WeekStart = core.WeekStart(w.WeekStart)
	if err := w.Validate(); err != nil {
		return core.WeeklyAllocation{}, err
	}
	now := formatTimestamp(r.now())

	if w.ID == "" {
		row := r.db.QueryRowContext(ctx, `INSERT INTO weekly_budgets
			(id, owner_id, week_start, category_id, category_label, planned, note, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING `+weeklyColumns,
			uuid.NewString(), w.OwnerID, core.FormatDate(w.WeekStart), w.CategoryID, w.CategoryLabel,
			w.Planned.String(), w.Note, now, now)
		saved, err := scanWeekly(ctx, row)
		if err != nil {
			return core.WeeklyAllocation{}, fmt.Errorf("insert weekly budget: %w", err)
		}
		return saved, nil
	}

	row := r.db.QueryRowContext(ctx, `UPDATE weekly_budgets SET
			week_start = ?, category_id = ?, category_label = ?, planned = ?, note = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
		RETURNING `+weeklyColumns,
		core.FormatDate(w.WeekStart), w.CategoryID, w.CategoryLabel, w.Planned.String(), w.Note, now,
		w.ID, w.OwnerID)
	saved, err := scanWeekly(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.WeeklyAllocation{}, fmt.Errorf("weekly budget %s: %w", w.ID, core.ErrNotFound)
	}
	if err != nil {
		return core.WeeklyAllocation{}, fmt.Errorf("update weekly budget: %w", err)
	}
	return saved, nil
}

func (r *SQLiteRepository) DeleteWeekly(ctx context.Context, ownerID, id string) error {
	if err := r.requireWeekly(ctx); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM weekly_budgets WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete weekly budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("weekly budget %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) FindHighlight(ctx context.Context, ownerID string, kind core.BudgetKind, budgetID string) (core.HighlightSelection, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+highlightColumns+` FROM highlight_selections
		WHERE owner_id = ? AND kind = ? AND budget_id = ?`, ownerID, string(kind), budgetID)
	h, err := scanHighlight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.HighlightSelection{}, false, nil
	}
	if err != nil {
		return core.HighlightSelection{}, false, fmt.Errorf("find highlight: %w", err)
	}
	return h, true, nil
}

// InsertHighlight relies on the schema trigger for the per-owner cap; the
// abort is reported as core.ErrLimitReached.
func (r *SQLiteRepository) InsertHighlight(ctx context.Context, h core.HighlightSelection) (core.HighlightSelection, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = r.now()
	}
	h.CreatedAt = h.CreatedAt.UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO highlight_selections (`+highlightColumns+`) VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.OwnerID, string(h.Kind), h.BudgetID, formatTimestamp(h.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), highlightLimitMsg) {
			slog.DebugContext(ctx, "Highlight insert rejected by limit trigger", "owner_id", h.OwnerID)
			return core.HighlightSelection{}, core.ErrLimitReached
		}
		return core.HighlightSelection{}, fmt.Errorf("insert highlight: %w", err)
	}
	return h, nil
}

func (r *SQLiteRepository) DeleteHighlight(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM highlight_selections WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete highlight: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("highlight %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListHighlights(ctx context.Context, ownerID string) ([]core.HighlightSelection, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+highlightColumns+` FROM highlight_selections
		WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query highlights: %w", err)
	}
	defer rows.Close()

	var out []core.HighlightSelection
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate highlights: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
