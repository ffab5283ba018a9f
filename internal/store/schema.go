package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/db"
	"github.com/sells-group/invoice-cli/internal/model"
)

var invoiceUpsert = db.UpsertConfig{
	Table: "invoices",
	Columns: []string{
		"key", "invoice_number", "vendor_name", "status", "review_status",
		"confidence", "run_id", "document_path", "record", "created_at", "updated_at",
	},
	ConflictKeys: []string{"key"},
	UpdateCols: []string{
		"invoice_number", "vendor_name", "status", "review_status",
		"confidence", "run_id", "document_path", "record", "updated_at",
	},
}

var anomalyUpsert = db.UpsertConfig{
	Table: "anomalies",
	Columns: []string{
		"invoice_number", "anomalies", "severity", "detected_at",
		"resolved", "resolved_at", "resolution_notes",
	},
	ConflictKeys: []string{"invoice_number"},
}

var dlqUpsert = db.UpsertConfig{
	Table: "dead_letter_queue",
	Columns: []string{
		"id", "document_path", "record_key", "error", "error_type", "failed_stage",
		"retry_count", "max_retries", "next_retry_at", "created_at", "last_failed_at",
	},
	ConflictKeys: []string{"id"},
	UpdateCols: []string{
		"error", "error_type", "failed_stage", "retry_count", "next_retry_at", "last_failed_at",
	},
}

const invoiceSelect = `SELECT record, created_at, updated_at FROM invoices`

const anomalySelect = `SELECT invoice_number, anomalies, severity, detected_at, resolved, resolved_at, resolution_notes FROM anomalies`

const dlqSelect = `SELECT id, document_path, record_key, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at FROM dead_letter_queue`

// invoiceArgs returns the upsert arguments for res in invoiceUpsert column order.
func invoiceArgs(res *model.PipelineResult) ([]any, []byte, error) {
	record, err := json.Marshal(res)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "store: marshal invoice %s", res.Key)
	}
	args := []any{
		res.Key,
		res.Invoice.InvoiceNumber,
		res.Invoice.VendorName,
		string(res.Status),
		string(res.Invoice.ReviewStatus),
		res.Invoice.Confidence,
		res.RunID,
		res.Invoice.DocumentPath,
		nil, // record, filled per dialect
		res.CreatedAt.UTC(),
		res.UpdatedAt.UTC(),
	}
	return args, record, nil
}

const invoiceRecordArg = 8

type scannable interface {
	Scan(dest ...any) error
}

func decodeInvoice(record []byte, createdAt, updatedAt time.Time) (*model.PipelineResult, error) {
	var res model.PipelineResult
	if err := json.Unmarshal(record, &res); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal invoice")
	}
	res.CreatedAt = createdAt
	res.UpdatedAt = updatedAt
	return &res, nil
}
