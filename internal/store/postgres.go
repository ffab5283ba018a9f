package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/db"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		closeFn: closeFn,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	key            TEXT PRIMARY KEY,
	invoice_number TEXT NOT NULL,
	vendor_name    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	review_status  TEXT NOT NULL DEFAULT 'pending',
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	run_id         TEXT NOT NULL DEFAULT '',
	document_path  TEXT NOT NULL DEFAULT '',
	record         JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS anomalies (
	invoice_number   TEXT PRIMARY KEY,
	anomalies        JSONB NOT NULL,
	severity         TEXT NOT NULL,
	detected_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved         BOOLEAN NOT NULL DEFAULT false,
	resolved_at      TIMESTAMPTZ,
	resolution_notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_path  TEXT NOT NULL,
	record_key     TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	failed_stage   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(invoice_number);
CREATE INDEX IF NOT EXISTS idx_invoices_review_status ON invoices(review_status);
CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_anomalies_unresolved ON anomalies(detected_at DESC) WHERE NOT resolved;
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

var (
	pgInvoiceUpsert = db.MustUpsertSQL(invoiceUpsert, db.Postgres)
	pgAnomalyUpsert = db.MustUpsertSQL(anomalyUpsert, db.Postgres)
	pgDLQUpsert     = db.MustUpsertSQL(dlqUpsert, db.Postgres)
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertInvoice(ctx context.Context, res *model.PipelineResult) error {
	stamp(res, s.now())
	args, record, err := invoiceArgs(res)
	if err != nil {
		return err
	}
	args[invoiceRecordArg] = record

	_, err = s.pool.Exec(ctx, pgInvoiceUpsert, args...)
	return eris.Wrapf(err, "postgres: upsert invoice %s", res.Key)
}

func (s *PostgresStore) GetInvoice(ctx context.Context, key string) (*model.PipelineResult, error) {
	row := s.pool.QueryRow(ctx, invoiceSelect+` WHERE key = $1`, key)
	res, err := scanPgInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: invoice %s", key)
	}
	return res, err
}

func (s *PostgresStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.PipelineResult, error) {
	query := invoiceSelect + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.ReviewStatus != "" {
		query += ` AND review_status = ` + arg(string(filter.ReviewStatus))
	}
	if filter.InvoiceNumber != "" {
		query += ` AND invoice_number = ` + arg(filter.InvoiceNumber)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + arg(filter.Since)
	}
	query += ` ORDER BY created_at DESC, key LIMIT ` + arg(listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	return s.queryInvoices(ctx, query, args...)
}

func (s *PostgresStore) FindByInvoiceNumber(ctx context.Context, number string) ([]model.PipelineResult, error) {
	return s.queryInvoices(ctx, invoiceSelect+` WHERE invoice_number = $1 ORDER BY created_at`, number)
}

func (s *PostgresStore) queryInvoices(ctx context.Context, query string, args ...any) ([]model.PipelineResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list invoices")
	}
	defer rows.Close()

	var out []model.PipelineResult
	for rows.Next() {
		res, err := scanPgInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list invoices iterate")
}

func scanPgInvoice(row scannable) (*model.PipelineResult, error) {
	var record []byte
	var createdAt, updatedAt time.Time
	if err := row.Scan(&record, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan invoice")
	}
	return decodeInvoice(record, createdAt, updatedAt)
}

// Anomalies

func (s *PostgresStore) UpsertAnomaly(ctx context.Context, rec model.AnomalyRecord) error {
	payload, err := json.Marshal(rec.Anomalies)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal anomalies")
	}
	if rec.DetectedAt.IsZero() {
		rec.DetectedAt = s.now()
	}
	_, err = s.pool.Exec(ctx, pgAnomalyUpsert,
		rec.InvoiceNumber, payload, string(rec.Severity), rec.DetectedAt,
		rec.Resolved, rec.ResolvedAt, rec.ResolutionNotes,
	)
	return eris.Wrapf(err, "postgres: upsert anomaly %s", rec.InvoiceNumber)
}

func (s *PostgresStore) GetAnomaly(ctx context.Context, invoiceNumber string) (*model.AnomalyRecord, error) {
	row := s.pool.QueryRow(ctx, anomalySelect+` WHERE invoice_number = $1`, invoiceNumber)
	rec, err := scanPgAnomaly(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: anomaly %s", invoiceNumber)
	}
	return rec, err
}

func (s *PostgresStore) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]model.AnomalyRecord, error) {
	query := anomalySelect + ` WHERE 1=1`
	var args []any
	if filter.UnresolvedOnly {
		query += ` AND NOT resolved`
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		query += fmt.Sprintf(` AND severity = $%d`, len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY detected_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list anomalies")
	}
	defer rows.Close()

	var out []model.AnomalyRecord
	for rows.Next() {
		rec, err := scanPgAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list anomalies iterate")
}

func (s *PostgresStore) ResolveAnomaly(ctx context.Context, invoiceNumber, notes string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE anomalies SET resolved = true, resolved_at = $1, resolution_notes = $2 WHERE invoice_number = $3`,
		s.now(), notes, invoiceNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve anomaly %s", invoiceNumber)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "anomaly %s", invoiceNumber)
	}
	return nil
}

func scanPgAnomaly(row scannable) (*model.AnomalyRecord, error) {
	var rec model.AnomalyRecord
	var payload []byte
	var severity string
	if err := row.Scan(&rec.InvoiceNumber, &payload, &severity, &rec.DetectedAt,
		&rec.Resolved, &rec.ResolvedAt, &rec.ResolutionNotes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan anomaly")
	}
	rec.Severity = model.Severity(severity)
	if err := json.Unmarshal(payload, &rec.Anomalies); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal anomalies")
	}
	return &rec, nil
}

// Dead letter queue

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, pgDLQUpsert,
		entry.ID, entry.DocumentPath, entry.RecordKey, entry.Error, entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	due := filter.DueBefore
	if due.IsZero() {
		due = s.now()
	}
	query := dlqSelect + ` WHERE next_retry_at <= $1 AND retry_count < max_retries`
	args := []any{due}
	if filter.ErrorType != "" {
		args = append(args, filter.ErrorType)
		query += fmt.Sprintf(` AND error_type = $%d`, len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY next_retry_at ASC LIMIT $%d`, len(args))
	return s.queryDLQ(ctx, query, args...)
}

func (s *PostgresStore) ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error) {
	return s.queryDLQ(ctx, dlqSelect+` ORDER BY created_at DESC LIMIT $1`, listLimit(limit))
}

func (s *PostgresStore) queryDLQ(ctx context.Context, query string, args ...any) ([]resilience.DLQEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.DocumentPath, &e.RecordKey, &e.Error, &e.ErrorType,
			&e.FailedStage, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: query dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq_entry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
