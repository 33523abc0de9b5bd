package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/merchantry/ordersync/internal/oms"
)

// Skip reasons recorded in the cycle report. One bad record never aborts
// the batch; it is logged under one of these and the cycle continues.
const (
	SkipNotYetVisible = "local order not yet visible"
	SkipUnclassified  = "unclassified order number"
)

// Classifier routes fetched remote orders to the import or update path.
// Classification is a pure function of the order number prefix plus a local
// existence lookup; it performs no writes.
type Classifier struct {
	store  *Store
	logger *slog.Logger
}

// NewClassifier creates a Classifier over the given store.
func NewClassifier(store *Store, logger *slog.Logger) *Classifier {
	return &Classifier{store: store, logger: logger}
}

// Classify decides the route for a remote order.
//
// Decision table:
//   - a local order already references this external ID -> update
//   - remote-origin prefix, no local reference           -> import
//   - local-origin prefix, local row exists by number    -> update
//   - local-origin prefix, no local row yet              -> skip (retry next cycle)
//   - anything else                                      -> skip (unclassified)
func (c *Classifier) Classify(ctx context.Context, remote *oms.Order) (Classification, error) {
	existing, err := c.store.GetOrderByExternalID(ctx, remote.ExternalID)
	if err != nil {
		return Classification{}, fmt.Errorf("classify %s: %w", remote.OrderNumber, err)
	}

	if existing != nil {
		return Classification{Route: RouteUpdate}, nil
	}

	switch {
	case strings.HasPrefix(remote.OrderNumber, remotePrefix):
		return Classification{Route: RouteImport}, nil

	case strings.HasPrefix(remote.OrderNumber, localPrefix):
		local, err := c.store.GetOrderByNumber(ctx, remote.OrderNumber)
		if err != nil {
			return Classification{}, fmt.Errorf("classify %s: %w", remote.OrderNumber, err)
		}

		if local == nil {
			// The point of sale has not written this order yet. Treat as
			// not-yet-visible and pick it up on a later cycle.
			return Classification{Route: RouteSkip, Reason: SkipNotYetVisible}, nil
		}

		return Classification{Route: RouteUpdate}, nil

	default:
		return Classification{Route: RouteSkip, Reason: SkipUnclassified}, nil
	}
}

// Route builds the staged local write for a classified order. Returns nil
// for the skip route. The returned row is applied by the engine inside the
// cycle transaction; Route itself performs no writes.
func (c *Classifier) Route(ctx context.Context, remote *oms.Order, cls Classification) (*LocalOrder, error) {
	switch cls.Route {
	case RouteImport:
		return c.stageImport(remote), nil

	case RouteUpdate:
		return c.stageUpdate(ctx, remote)

	case RouteSkip:
		c.logger.Info("skipping order",
			slog.String("order_number", remote.OrderNumber),
			slog.String("external_id", remote.ExternalID),
			slog.String("reason", cls.Reason),
		)

		return nil, nil

	default:
		return nil, fmt.Errorf("sync: unknown route %d for %s", cls.Route, remote.OrderNumber)
	}
}

// stageImport builds a fresh local row for a remote-origin order.
func (c *Classifier) stageImport(remote *oms.Order) *LocalOrder {
	now := NowNano()
	extID := remote.ExternalID

	return &LocalOrder{
		OrderNumber: remote.OrderNumber,
		ExternalID:  &extID,
		Status:      remote.Status,
		Customer:    remote.Customer,
		TotalCents:  remote.TotalCents,
		Currency:    remote.Currency,
		Origin:      OriginRemote,
		PlacedAt:    remote.PlacedAt.UnixNano(),
		ModifiedAt:  remote.ModifiedAt.UnixNano(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// stageUpdate merges remote fields into the existing local row. Only the
// sync-owned fields change; origin, placed_at, and row creation metadata are
// carried over so the upsert leaves them untouched.
func (c *Classifier) stageUpdate(ctx context.Context, remote *oms.Order) (*LocalOrder, error) {
	existing, err := c.store.GetOrderByExternalID(ctx, remote.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("route update %s: %w", remote.OrderNumber, err)
	}

	if existing == nil {
		existing, err = c.store.GetOrderByNumber(ctx, remote.OrderNumber)
		if err != nil {
			return nil, fmt.Errorf("route update %s: %w", remote.OrderNumber, err)
		}
	}

	if existing == nil {
		return nil, fmt.Errorf("sync: update route for %s but no local row", remote.OrderNumber)
	}

	merged := *existing
	extID := remote.ExternalID
	merged.ExternalID = &extID
	merged.Status = remote.Status
	merged.Customer = remote.Customer
	merged.TotalCents = remote.TotalCents
	merged.Currency = remote.Currency
	merged.ModifiedAt = remote.ModifiedAt.UnixNano()
	merged.UpdatedAt = NowNano()

	return &merged, nil
}
