package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// defaultEventLimit bounds event listings when callers pass 0.
const defaultEventLimit = 50

// Repository represents repository data used by this package.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db)
}

// OpenInMemory opens a private in-memory database. Each call gets its own
// named database so parallel tests never share rows.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file:courtroom-"+uuid.NewString()+"?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return newRepository(db)
}

// newRepository pins the pool to one connection and migrates the schema.
func newRepository(db *sql.DB) (*Repository, error) {
	// sqlite serializes writers; one connection keeps compare-and-swap
	// updates and idempotency claims from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			title TEXT NOT NULL,
			jurisdiction TEXT NOT NULL DEFAULT '',
			case_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'created',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		// change_events outlive their case so deletions stay auditable.
		`CREATE TABLE IF NOT EXISTS change_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			case_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			from_status TEXT NOT NULL DEFAULT '',
			to_status TEXT NOT NULL DEFAULT '',
			actor_id TEXT NOT NULL,
			actor_role TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS idempotency_records (
			key TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			status INTEGER NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			headers_json TEXT NOT NULL DEFAULT '{}',
			body BLOB,
			expires_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cases_org_created_at ON cases(org_id, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_case_created_at ON change_events(case_id, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_records_expires_at ON idempotency_records(expires_at);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	if _, err := r.db.ExecContext(ctx, `ALTER TABLE idempotency_records ADD COLUMN headers_json TEXT NOT NULL DEFAULT '{}'`); err != nil && !isDuplicateColumnErr(err) {
		return fmt.Errorf("migrate sqlite add idempotency_records.headers_json: %w", err)
	}
	return nil
}

// isDuplicateColumnErr reports whether an ALTER TABLE hit an existing column.
func isDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// CreateCase stores a new case and its create event.
func (r *Repository) CreateCase(ctx context.Context, c domain.Case) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cases(id, org_id, title, jurisdiction, case_type, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.OrgID,
		c.Title,
		c.Jurisdiction,
		string(c.CaseType),
		string(c.Status),
		c.CreatedBy,
		ts(c.CreatedAt),
		ts(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}

	err = insertChangeEvent(ctx, tx, actorEvent(ctx, domain.ChangeEvent{
		CaseID:     c.ID,
		OrgID:      c.OrgID,
		Operation:  domain.ChangeOperationCreate,
		ToStatus:   c.Status,
		ActorID:    c.CreatedBy,
		Metadata:   caseMetadata(c),
		OccurredAt: c.CreatedAt,
	}))
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// GetCase returns case.
func (r *Repository) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return getCaseByID(ctx, r.db, id)
}

// ListCases returns one page of cases, newest first, plus the unpaged total.
func (r *Repository) ListCases(ctx context.Context, filter app.ListCasesFilter) ([]domain.Case, int, error) {
	where := ``
	args := []any{}
	if filter.OrgID != "" {
		where = ` WHERE org_id = ?`
		args = append(args, filter.OrgID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = app.DefaultPageLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, title, jurisdiction, case_type, status, created_by, created_at, updated_at
		FROM cases`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, max(filter.Offset, 0))...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]domain.Case, 0, limit)
	for rows.Next() {
		c, scanErr := scanCase(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// UpdateCaseDetails rewrites descriptive fields and leaves status alone.
func (r *Repository) UpdateCaseDetails(ctx context.Context, c domain.Case) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	prev, err := getCaseByID(ctx, tx, c.ID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE cases
		SET title = ?, jurisdiction = ?, updated_at = ?
		WHERE id = ?
	`, c.Title, c.Jurisdiction, ts(c.UpdatedAt), c.ID)
	if err != nil {
		return err
	}
	if err = translateNoRows(res); err != nil {
		return err
	}

	err = insertChangeEvent(ctx, tx, actorEvent(ctx, domain.ChangeEvent{
		CaseID:     c.ID,
		OrgID:      prev.OrgID,
		Operation:  domain.ChangeOperationUpdate,
		FromStatus: prev.Status,
		ToStatus:   prev.Status,
		Metadata:   changedCaseFields(prev, c),
		OccurredAt: c.UpdatedAt,
	}))
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// DeleteCase deletes case.
func (r *Repository) DeleteCase(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	c, err := getCaseByID(ctx, tx, id)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err = translateNoRows(res); err != nil {
		return err
	}

	err = insertChangeEvent(ctx, tx, actorEvent(ctx, domain.ChangeEvent{
		CaseID:     c.ID,
		OrgID:      c.OrgID,
		Operation:  domain.ChangeOperationDelete,
		FromStatus: c.Status,
		Metadata:   caseMetadata(c),
		OccurredAt: time.Now().UTC(),
	}))
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// UpdateCaseStatus moves c to its new status only while the stored status
// still equals from, and records the event in the same transaction.
func (r *Repository) UpdateCaseStatus(ctx context.Context, c domain.Case, from domain.CaseStatus, event domain.ChangeEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE cases
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(c.Status), ts(c.UpdatedAt), c.ID, string(from))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a vanished case from a lost race.
		if _, err = getCaseByID(ctx, tx, c.ID); err != nil {
			return err
		}
		err = app.ErrStaleStatus
		return err
	}

	if err = insertChangeEvent(ctx, tx, event); err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// ListCaseEvents lists recent case events for activity-log consumption.
func (r *Repository) ListCaseEvents(ctx context.Context, caseID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, case_id, org_id, operation, from_status, to_status, actor_id, actor_role, metadata_json, created_at
		FROM change_events
		WHERE case_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			opRaw       string
			fromRaw     string
			toRaw       string
			roleRaw     string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &event.CaseID, &event.OrgID, &opRaw, &fromRaw, &toRaw, &event.ActorID, &roleRaw, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.Operation = domain.ChangeOperation(opRaw)
		event.FromStatus = domain.CaseStatus(fromRaw)
		event.ToStatus = domain.CaseStatus(toRaw)
		event.ActorRole = domain.Role(roleRaw)
		event.OccurredAt = parseTS(createdRaw)
		if strings.TrimSpace(metadataRaw) == "" {
			metadataRaw = "{}"
		}
		if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode change_events.metadata_json: %w", err)
		}
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// queryRower represents a query-only DB contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// getCaseByID returns one case row.
func getCaseByID(ctx context.Context, q queryRower, id string) (domain.Case, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, org_id, title, jurisdiction, case_type, status, created_by, created_at, updated_at
		FROM cases
		WHERE id = ?
	`, id)
	return scanCase(row)
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// insertChangeEvent inserts a change-event ledger record.
func insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO change_events(case_id, org_id, operation, from_status, to_status, actor_id, actor_role, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.CaseID,
		event.OrgID,
		string(event.Operation),
		string(event.FromStatus),
		string(event.ToStatus),
		chooseActorID(event.ActorID, "system"),
		string(event.ActorRole),
		string(metadataJSON),
		ts(normalizeEventTS(event.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// actorEvent fills actor fields from the request caller when present.
func actorEvent(ctx context.Context, event domain.ChangeEvent) domain.ChangeEvent {
	caller, ok := app.CallerFromContext(ctx)
	if !ok {
		return event
	}
	event.ActorID = chooseActorID(caller.UserID, event.ActorID)
	if event.ActorRole == "" {
		event.ActorRole = caller.Role
	}
	return event
}

// caseMetadata summarizes descriptive case fields for the ledger.
func caseMetadata(c domain.Case) map[string]string {
	return map[string]string{
		"title":        c.Title,
		"jurisdiction": c.Jurisdiction,
		"case_type":    string(c.CaseType),
	}
}

// changedCaseFields lists descriptive fields that differ between versions.
func changedCaseFields(prev, next domain.Case) map[string]string {
	changed := make([]string, 0, 2)
	if prev.Title != next.Title {
		changed = append(changed, "title")
	}
	if prev.Jurisdiction != next.Jurisdiction {
		changed = append(changed, "jurisdiction")
	}
	return map[string]string{"changed_fields": strings.Join(changed, ",")}
}

// chooseActorID returns the first non-empty actor id.
func chooseActorID(candidates ...string) string {
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// normalizeEventTS falls back to the current time for zero timestamps.
func normalizeEventTS(in time.Time) time.Time {
	if in.IsZero() {
		return time.Now().UTC()
	}
	return in.UTC()
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanCase handles scan case.
func scanCase(s scanner) (domain.Case, error) {
	var (
		c          domain.Case
		caseType   string
		status     string
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(&c.ID, &c.OrgID, &c.Title, &c.Jurisdiction, &caseType, &status, &c.CreatedBy, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Case{}, app.ErrNotFound
		}
		return domain.Case{}, err
	}
	c.CaseType = domain.CaseType(caseType)
	c.Status = domain.CaseStatus(status)
	c.CreatedAt = parseTS(createdRaw)
	c.UpdatedAt = parseTS(updatedRaw)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return c, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// tsLayout is fixed width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
