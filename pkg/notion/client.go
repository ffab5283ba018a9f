// Package notion talks to the Notion database that mirrors the invoice
// review queue. Every call is throttled to stay inside Notion's per
// integration request rate.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultRate is Notion's documented average rate per integration.
const DefaultRate = 3

// Client is what the review queue calls on Notion: find review pages,
// open one per flagged invoice and write a reviewer's outcome back.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// ClientOption configures NewClient.
type ClientOption func(*reviewClient)

// WithRateLimit sets the request rate in calls per second. A rate of zero or
// less turns throttling off.
func WithRateLimit(rps float64) ClientOption {
	return func(c *reviewClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type reviewClient struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// NewClient returns a Client for the integration token, throttled to
// DefaultRate unless an option says otherwise.
func NewClient(token string, opts ...ClientOption) Client {
	c := &reviewClient{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(DefaultRate, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *reviewClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return throttled(ctx, c.limiter, "query review database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *reviewClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return throttled(ctx, c.limiter, "create review page", func() (*notionapi.Page, error) {
		return c.api.Page.Create(ctx, req)
	})
}

func (c *reviewClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return throttled(ctx, c.limiter, "update review page "+pageID, func() (*notionapi.Page, error) {
		return c.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
}

// throttled takes a limiter token, then runs call. Errors are tagged with op.
func throttled[T any](ctx context.Context, limiter *rate.Limiter, op string, call func() (T, error)) (T, error) {
	var zero T
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return zero, eris.Wrapf(err, "notion: %s: throttled", op)
		}
	}
	out, err := call()
	if err != nil {
		return zero, eris.Wrapf(err, "notion: %s", op)
	}
	return out, nil
}
