package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/invoice-cli/internal/db"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	locks *keyLocks
	now   func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{
		db:    conn,
		locks: newKeyLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	key            TEXT PRIMARY KEY,
	invoice_number TEXT NOT NULL,
	vendor_name    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	review_status  TEXT NOT NULL DEFAULT 'pending',
	confidence     REAL NOT NULL DEFAULT 0,
	run_id         TEXT NOT NULL DEFAULT '',
	document_path  TEXT NOT NULL DEFAULT '',
	record         TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS anomalies (
	invoice_number   TEXT PRIMARY KEY,
	anomalies        TEXT NOT NULL,
	severity         TEXT NOT NULL,
	detected_at      DATETIME NOT NULL,
	resolved         INTEGER NOT NULL DEFAULT 0,
	resolved_at      DATETIME,
	resolution_notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	document_path  TEXT NOT NULL,
	record_key     TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	failed_stage   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(invoice_number);
CREATE INDEX IF NOT EXISTS idx_invoices_review_status ON invoices(review_status);
CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at);
CREATE INDEX IF NOT EXISTS idx_anomalies_resolved ON anomalies(resolved);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

var (
	sqliteInvoiceUpsert = db.MustUpsertSQL(invoiceUpsert, db.SQLite)
	sqliteAnomalyUpsert = db.MustUpsertSQL(anomalyUpsert, db.SQLite)
	sqliteDLQUpsert     = db.MustUpsertSQL(dlqUpsert, db.SQLite)
)

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertInvoice(ctx context.Context, res *model.PipelineResult) error {
	stamp(res, s.now())
	args, record, err := invoiceArgs(res)
	if err != nil {
		return err
	}
	args[invoiceRecordArg] = string(record)

	unlock := s.locks.lock("invoice:" + res.Key)
	defer unlock()

	_, err = s.db.ExecContext(ctx, sqliteInvoiceUpsert, args...)
	return eris.Wrapf(err, "sqlite: upsert invoice %s", res.Key)
}

func (s *SQLiteStore) GetInvoice(ctx context.Context, key string) (*model.PipelineResult, error) {
	row := s.db.QueryRowContext(ctx, invoiceSelect+` WHERE key = ?`, key)
	res, err := scanSQLiteInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: invoice %s", key)
	}
	return res, err
}

func (s *SQLiteStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.PipelineResult, error) {
	query := invoiceSelect + ` WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ReviewStatus != "" {
		query += ` AND review_status = ?`
		args = append(args, string(filter.ReviewStatus))
	}
	if filter.InvoiceNumber != "" {
		query += ` AND invoice_number = ?`
		args = append(args, filter.InvoiceNumber)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC, key LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return s.queryInvoices(ctx, query, args...)
}

func (s *SQLiteStore) FindByInvoiceNumber(ctx context.Context, number string) ([]model.PipelineResult, error) {
	return s.queryInvoices(ctx, invoiceSelect+` WHERE invoice_number = ? ORDER BY created_at`, number)
}

func (s *SQLiteStore) queryInvoices(ctx context.Context, query string, args ...any) ([]model.PipelineResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list invoices")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PipelineResult
	for rows.Next() {
		res, err := scanSQLiteInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list invoices iterate")
}

func scanSQLiteInvoice(row scannable) (*model.PipelineResult, error) {
	var record string
	var createdAt, updatedAt time.Time
	if err := row.Scan(&record, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan invoice")
	}
	return decodeInvoice([]byte(record), createdAt, updatedAt)
}

// Anomalies

func (s *SQLiteStore) UpsertAnomaly(ctx context.Context, rec model.AnomalyRecord) error {
	payload, err := json.Marshal(rec.Anomalies)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal anomalies")
	}
	if rec.DetectedAt.IsZero() {
		rec.DetectedAt = s.now()
	}

	unlock := s.locks.lock("anomaly:" + rec.InvoiceNumber)
	defer unlock()

	_, err = s.db.ExecContext(ctx, sqliteAnomalyUpsert,
		rec.InvoiceNumber, string(payload), string(rec.Severity), rec.DetectedAt.UTC(),
		rec.Resolved, rec.ResolvedAt, rec.ResolutionNotes,
	)
	return eris.Wrapf(err, "sqlite: upsert anomaly %s", rec.InvoiceNumber)
}

func (s *SQLiteStore) GetAnomaly(ctx context.Context, invoiceNumber string) (*model.AnomalyRecord, error) {
	row := s.db.QueryRowContext(ctx, anomalySelect+` WHERE invoice_number = ?`, invoiceNumber)
	rec, err := scanSQLiteAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: anomaly %s", invoiceNumber)
	}
	return rec, err
}

func (s *SQLiteStore) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]model.AnomalyRecord, error) {
	query := anomalySelect + ` WHERE 1=1`
	var args []any
	if filter.UnresolvedOnly {
		query += ` AND resolved = 0`
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list anomalies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AnomalyRecord
	for rows.Next() {
		rec, err := scanSQLiteAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list anomalies iterate")
}

func (s *SQLiteStore) ResolveAnomaly(ctx context.Context, invoiceNumber, notes string) error {
	unlock := s.locks.lock("anomaly:" + invoiceNumber)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE anomalies SET resolved = 1, resolved_at = ?, resolution_notes = ? WHERE invoice_number = ?`,
		s.now(), notes, invoiceNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve anomaly %s", invoiceNumber)
	}
	return checkRowsAffected(res, "anomaly", invoiceNumber)
}

func scanSQLiteAnomaly(row scannable) (*model.AnomalyRecord, error) {
	var rec model.AnomalyRecord
	var payload, severity string
	var resolvedAt sql.NullTime
	err := row.Scan(&rec.InvoiceNumber, &payload, &severity, &rec.DetectedAt,
		&rec.Resolved, &resolvedAt, &rec.ResolutionNotes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan anomaly")
	}
	rec.Severity = model.Severity(severity)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(payload), &rec.Anomalies); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal anomalies")
	}
	return &rec, nil
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, sqliteDLQUpsert,
		entry.ID, entry.DocumentPath, entry.RecordKey, entry.Error, entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	due := filter.DueBefore
	if due.IsZero() {
		due = s.now()
	}
	query := dlqSelect + ` WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{due.UTC()}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	return s.queryDLQ(ctx, query, args...)
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error) {
	return s.queryDLQ(ctx, dlqSelect+` ORDER BY created_at DESC LIMIT ?`, listLimit(limit))
}

func (s *SQLiteStore) queryDLQ(ctx context.Context, query string, args ...any) ([]resilience.DLQEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.DocumentPath, &e.RecordKey, &e.Error, &e.ErrorType,
			&e.FailedStage, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: query dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
