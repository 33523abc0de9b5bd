package oms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// maxPages bounds the pagination loop so a server bug that keeps returning
// cursors cannot spin forever.
const maxPages = 1000

// ListChangedSince fetches all orders modified at or after the given
// timestamp, following pagination cursors until the listing is exhausted.
// A failure on any page aborts the whole listing — the caller must not
// advance its watermark on a partial result.
func (c *Client) ListChangedSince(ctx context.Context, since time.Time) ([]Order, error) {
	c.logger.Info("listing changed orders",
		slog.Time("since", since),
	)

	var all []Order

	cursor := ""

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("oms: pagination exceeded %d pages", maxPages)
		}

		p, err := c.listPage(ctx, since, cursor)
		if err != nil {
			return nil, fmt.Errorf("oms: listing page %d: %w", page, err)
		}

		all = append(all, p.Orders...)

		c.logger.Debug("fetched orders page",
			slog.Int("page", page),
			slog.Int("count", len(p.Orders)),
			slog.Bool("has_next", p.NextCursor != ""),
		)

		if p.NextCursor == "" {
			break
		}

		cursor = p.NextCursor
	}

	c.logger.Info("listing complete", slog.Int("orders", len(all)))

	return all, nil
}

// listPage fetches a single page of the changed-orders listing.
func (c *Client) listPage(ctx context.Context, since time.Time, cursor string) (*ordersPage, error) {
	q := url.Values{}
	q.Set("modified_since", since.UTC().Format(time.RFC3339))

	if cursor != "" {
		q.Set("cursor", cursor)
	}

	resp, err := c.Do(ctx, http.MethodGet, "/orders/changes?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var p ordersPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding orders page: %w", err)
	}

	for i := range p.Orders {
		if p.Orders[i].OrderNumber == "" {
			return nil, fmt.Errorf("order %q has no order number", p.Orders[i].ExternalID)
		}
	}

	return &p, nil
}

// GetOrder fetches the full detail for a single order by its external ID.
// Returns ErrNotFound (wrapped) when the order does not exist remotely.
func (c *Client) GetOrder(ctx context.Context, externalID string) (*OrderDetail, error) {
	c.logger.Debug("fetching order detail", slog.String("external_id", externalID))

	resp, err := c.Do(ctx, http.MethodGet, "/orders/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var d OrderDetail
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decoding order detail %s: %w", externalID, err)
	}

	return &d, nil
}
