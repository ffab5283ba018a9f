package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page matching filter, following cursors. The next
// page is requested while the current one is appended.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	newReq := func(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if filter != nil {
			req.Filter = filter.Filter
			req.Sorts = filter.Sorts
			req.PageSize = filter.PageSize
		}
		return req
	}

	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	var all []notionapi.Page
	resp, err := c.QueryDatabase(ctx, dbID, newReq(""))
	for {
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		if !resp.HasMore {
			return append(all, resp.Results...), nil
		}

		next := make(chan result, 1)
		cursor := resp.NextCursor
		go func() {
			r, e := c.QueryDatabase(ctx, dbID, newReq(cursor))
			next <- result{resp: r, err: e}
		}()

		all = append(all, resp.Results...)
		r := <-next
		resp, err = r.resp, r.err
	}
}

// QueryByStatus fetches every page whose Status property equals status.
func QueryByStatus(ctx context.Context, c Client, dbID, status string) ([]notionapi.Page, error) {
	pages, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropStatus,
			Status:   &notionapi.StatusFilterCondition{Equals: status},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query status %q", status)
	}
	return pages, nil
}
