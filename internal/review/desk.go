package review

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
)

var (
	// ErrInvalidStatus rejects a status a reviewer may not set.
	ErrInvalidStatus = eris.New("review: invalid status")
	// ErrInvalidField rejects an unknown field or an unparsable value.
	ErrInvalidField = eris.New("review: invalid field")
)

// Reviewer-settable statuses.
var allowedStatuses = map[model.ReviewStatus]bool{
	model.ReviewApproved:    true,
	model.ReviewRejected:    true,
	model.ReviewNeedsReview: true,
	model.ReviewPending:     true,
}

// InvoiceStore is the persistence the desk needs.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, key string) (*model.PipelineResult, error)
	UpsertInvoice(ctx context.Context, res *model.PipelineResult) error
}

// Update is a reviewer's change to one invoice. Fields maps editable field
// names to new values; Status is optional.
type Update struct {
	Fields map[string]string
	Status model.ReviewStatus
	Notes  string
	By     string
}

// Desk applies human edits. Every change is kept as a Correction, and
// approving or rejecting records a Resolution.
type Desk struct {
	store InvoiceStore
	now   func() time.Time
	mu    sync.Mutex
	log   *zap.Logger
}

// NewDesk creates a Desk over store.
func NewDesk(store InvoiceStore) *Desk {
	return &Desk{
		store: store,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "review.desk")),
	}
}

// Update applies u to the invoice stored under key. The store key, document
// path and timings are never changed.
func (d *Desk) Update(ctx context.Context, key string, u Update) (*model.PipelineResult, error) {
	if u.Status != "" && !allowedStatuses[u.Status] {
		return nil, eris.Wrapf(ErrInvalidStatus, "review: status %q", u.Status)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.store.GetInvoice(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "review: load %s", key)
	}
	now := d.now().UTC()

	names := make([]string, 0, len(u.Fields))
	for name := range u.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		newValue := strings.TrimSpace(u.Fields[name])
		oldValue, err := setField(&res.Invoice, name, newValue)
		if err != nil {
			return nil, err
		}
		if oldValue == newValue {
			continue
		}
		res.Corrections = append(res.Corrections, model.Correction{
			Field: name, OldValue: oldValue, NewValue: newValue,
			Notes: u.Notes, CorrectedBy: u.By, CorrectedAt: now,
		})
	}

	if u.Status != "" && u.Status != res.Invoice.ReviewStatus {
		res.Corrections = append(res.Corrections, model.Correction{
			Field: "review_status", OldValue: string(res.Invoice.ReviewStatus), NewValue: string(u.Status),
			Notes: u.Notes, CorrectedBy: u.By, CorrectedAt: now,
		})
		res.Invoice.ReviewStatus = u.Status
		if res.Review != nil {
			res.Review.Status = u.Status
		}
	}

	if u.Status == model.ReviewApproved || u.Status == model.ReviewRejected {
		res.Resolution = &model.Resolution{Status: u.Status, Notes: u.Notes, ResolvedBy: u.By, ResolvedAt: now}
		if res.Review != nil {
			res.Review.ReviewedAt = &now
		}
	}

	if err := d.store.UpsertInvoice(ctx, res); err != nil {
		return nil, eris.Wrapf(err, "review: save %s", key)
	}
	d.log.Info("review: invoice updated",
		zap.String("key", key),
		zap.Int("corrections", len(res.Corrections)),
		zap.String("review_status", string(res.Invoice.ReviewStatus)),
		zap.String("by", u.By),
	)
	return res, nil
}

// Correct applies a single field correction. OldValue is filled from the
// stored record.
func (d *Desk) Correct(ctx context.Context, key string, c model.Correction) (*model.PipelineResult, error) {
	if strings.TrimSpace(c.Field) == "" {
		return nil, eris.Wrap(ErrInvalidField, "review: correction has no field")
	}
	return d.Update(ctx, key, Update{
		Fields: map[string]string{c.Field: c.NewValue},
		Notes:  c.Notes,
		By:     c.CorrectedBy,
	})
}

// setField writes value into the named field and returns the previous value.
func setField(rec *model.InvoiceRecord, name, value string) (string, error) {
	switch name {
	case "vendor_name":
		old := rec.VendorName
		rec.VendorName = value
		return old, nil
	case "invoice_number":
		old := rec.InvoiceNumber
		rec.InvoiceNumber = value
		return old, nil
	case "invoice_date":
		if value != "" {
			if _, err := time.Parse(model.DateLayout, value); err != nil {
				return "", eris.Wrapf(ErrInvalidField, "review: invoice_date %q is not YYYY-MM-DD", value)
			}
		}
		old := rec.InvoiceDate
		rec.InvoiceDate = value
		return old, nil
	case "currency":
		old := rec.Currency
		rec.Currency = strings.ToUpper(value)
		return old, nil
	case "po_number":
		old := rec.PONumber
		rec.PONumber = value
		return old, nil
	case "total_amount":
		return setAmount(&rec.TotalAmount, name, value)
	case "tax_amount":
		return setAmount(&rec.TaxAmount, name, value)
	}
	return "", eris.Wrapf(ErrInvalidField, "review: %q is not editable", name)
}

func setAmount(dst *decimal.NullDecimal, name, value string) (string, error) {
	old := ""
	if dst.Valid {
		old = dst.Decimal.String()
	}
	if value == "" {
		*dst = decimal.NullDecimal{}
		return old, nil
	}
	amt, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
	if err != nil {
		return "", eris.Wrapf(ErrInvalidField, "review: %s %q is not a number", name, value)
	}
	if old != "" && dst.Decimal.Equal(amt) {
		return value, nil
	}
	*dst = decimal.NewNullDecimal(amt)
	return old, nil
}
