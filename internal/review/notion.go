package review

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/pkg/notion"
)

// Notion status values of the review database.
const (
	NotionNeedsReview = "Needs Review"
	NotionApproved    = "Approved"
	NotionRejected    = "Rejected"
	NotionSynced      = "Synced"
)

// SyncSummary counts the outcome of a decision sync.
type SyncSummary struct {
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

// NotionQueue mirrors invoices awaiting review into a Notion database and
// pulls reviewer decisions back through the Desk.
type NotionQueue struct {
	client notion.Client
	dbID   string
	desk   *Desk
	log    *zap.Logger
}

// NewNotionQueue creates a queue over the database dbID. desk may be nil
// when only enqueueing.
func NewNotionQueue(client notion.Client, dbID string, desk *Desk) *NotionQueue {
	return &NotionQueue{
		client: client,
		dbID:   dbID,
		desk:   desk,
		log:    zap.L().With(zap.String("component", "review.notion")),
	}
}

// Enqueue creates a review page for res.
func (q *NotionQueue) Enqueue(ctx context.Context, res *model.PipelineResult) error {
	inv := res.Invoice
	props := notionapi.Properties{
		"Name":       notion.Title(inv.InvoiceNumber),
		"Key":        notion.Text(res.Key),
		"Vendor":     notion.Text(inv.VendorName),
		"Confidence": notion.Number(inv.Confidence),
		"Status":     notion.Status(NotionNeedsReview),
	}
	if inv.TotalAmount.Valid {
		props["Amount"] = notion.Number(inv.TotalAmount.Decimal.InexactFloat64())
	}
	if res.Review != nil {
		props["Priority"] = notion.Text(string(res.Review.Priority))
		props["Reasons"] = notion.Text(strings.Join(res.Review.Reasons, "; "))
	}

	page, err := q.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(q.dbID),
		},
		Properties: props,
	})
	if err != nil {
		return eris.Wrapf(err, "review: enqueue %s", res.Key)
	}
	q.log.Info("review: queued in notion", zap.String("key", res.Key), zap.String("page_id", string(page.ID)))
	return nil
}

// SyncDecisions applies Approved and Rejected pages to the stored invoices
// and marks each applied page Synced. A page that fails is counted and left
// for the next sync.
func (q *NotionQueue) SyncDecisions(ctx context.Context) (SyncSummary, error) {
	var sum SyncSummary
	if q.desk == nil {
		return sum, eris.New("review: notion sync requires a desk")
	}

	for notionStatus, status := range map[string]model.ReviewStatus{
		NotionApproved: model.ReviewApproved,
		NotionRejected: model.ReviewRejected,
	} {
		pages, err := notion.QueryByStatus(ctx, q.client, q.dbID, notionStatus)
		if err != nil {
			return sum, eris.Wrap(err, "review: sync decisions")
		}
		for _, page := range pages {
			if err := q.apply(ctx, page, status); err != nil {
				if ctx.Err() != nil {
					return sum, eris.Wrap(ctx.Err(), "review: sync decisions")
				}
				sum.Failed++
				q.log.Warn("review: sync page failed", zap.String("page_id", string(page.ID)), zap.Error(err))
				continue
			}
			if status == model.ReviewApproved {
				sum.Approved++
			} else {
				sum.Rejected++
			}
		}
	}

	q.log.Info("review: notion sync complete",
		zap.Int("approved", sum.Approved),
		zap.Int("rejected", sum.Rejected),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (q *NotionQueue) apply(ctx context.Context, page notionapi.Page, status model.ReviewStatus) error {
	key := strings.TrimSpace(notion.PlainText(page.Properties, "Key"))
	if key == "" {
		return eris.New("review: page has no Key")
	}
	by := strings.TrimSpace(notion.PlainText(page.Properties, "Reviewer"))
	if by == "" {
		by = "notion"
	}
	if _, err := q.desk.Update(ctx, key, Update{
		Status: status,
		Notes:  notion.PlainText(page.Properties, "Notes"),
		By:     by,
	}); err != nil {
		return err
	}

	_, err := q.client.UpdatePage(ctx, string(page.ID), &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{"Status": notion.Status(NotionSynced)},
	})
	return err
}
