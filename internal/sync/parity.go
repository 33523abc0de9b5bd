package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Discrepancy is one field-level mismatch between the legacy path's output
// and the new path's output for the same order.
type Discrepancy struct {
	Key    string `json:"key"`   // order number
	Field  string `json:"field"` // mismatching field name
	Legacy string `json:"legacy"`
	New    string `json:"new"`
}

// ParityReport is the result of one shadow-mode comparison window. Any
// non-empty discrepancy list is a hard gate: cutover must not proceed.
type ParityReport struct {
	From          time.Time     `json:"from"`
	To            time.Time     `json:"to"`
	MatchedCount  int           `json:"matched_count"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// CutoverReady reports whether the window showed full parity.
func (r *ParityReport) CutoverReady() bool {
	return len(r.Discrepancies) == 0
}

// ParityValidator compares the new sync path's order writes against the
// legacy path's recorded snapshot for the same time window. It runs on an
// interval during the shadow period and is retired after cutover.
type ParityValidator struct {
	store  *Store
	logger *slog.Logger
}

// NewParityValidator creates a ParityValidator over the given store.
func NewParityValidator(store *Store, logger *slog.Logger) *ParityValidator {
	return &ParityValidator{store: store, logger: logger}
}

// ValidateParity compares both paths' outputs for [from, to), keyed on
// order number, field for field. Orders present on only one side are
// reported as a "presence" discrepancy.
func (v *ParityValidator) ValidateParity(ctx context.Context, from, to time.Time) (*ParityReport, error) {
	var (
		legacy []*ShadowOrder
		fresh  []*LocalOrder
	)

	// Both snapshot reads are independent; fetch them concurrently.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		legacy, err = v.store.ListShadowOrdersBetween(gctx, from, to)
		return err
	})

	g.Go(func() error {
		var err error
		fresh, err = v.store.ListOrdersModifiedBetween(gctx, from, to)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("sync: reading parity snapshots: %w", err)
	}

	report := &ParityReport{From: from, To: to}

	newByKey := make(map[string]*LocalOrder, len(fresh))
	for _, o := range fresh {
		newByKey[o.OrderNumber] = o
	}

	seen := make(map[string]bool, len(legacy))

	for _, l := range legacy {
		seen[l.OrderNumber] = true

		n, ok := newByKey[l.OrderNumber]
		if !ok {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Key: l.OrderNumber, Field: "presence", Legacy: "present", New: "missing",
			})

			continue
		}

		mismatches := compareOrder(l, n)
		if len(mismatches) == 0 {
			report.MatchedCount++
		} else {
			report.Discrepancies = append(report.Discrepancies, mismatches...)
		}
	}

	for _, n := range fresh {
		if !seen[n.OrderNumber] {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Key: n.OrderNumber, Field: "presence", Legacy: "missing", New: "present",
			})
		}
	}

	if len(report.Discrepancies) > 0 {
		v.logger.Error("shadow parity mismatch",
			slog.Int("matched", report.MatchedCount),
			slog.Int("discrepancies", len(report.Discrepancies)),
			slog.Time("from", from),
			slog.Time("to", to),
		)
	} else {
		v.logger.Info("shadow parity clean",
			slog.Int("matched", report.MatchedCount),
			slog.Time("from", from),
			slog.Time("to", to),
		)
	}

	return report, nil
}

// compareOrder diffs the legacy snapshot against the new row field by field.
func compareOrder(l *ShadowOrder, n *LocalOrder) []Discrepancy {
	var out []Discrepancy

	diff := func(field, legacy, fresh string) {
		if legacy != fresh {
			out = append(out, Discrepancy{Key: l.OrderNumber, Field: field, Legacy: legacy, New: fresh})
		}
	}

	diff("external_id", strOrEmpty(l.ExternalID), strOrEmpty(n.ExternalID))
	diff("status", l.Status, n.Status)
	diff("customer", l.Customer, n.Customer)
	diff("total_cents", fmt.Sprint(l.TotalCents), fmt.Sprint(n.TotalCents))
	diff("currency", l.Currency, n.Currency)
	diff("modified_at",
		time.Unix(0, l.ModifiedAt).UTC().Format(time.RFC3339Nano),
		time.Unix(0, n.ModifiedAt).UTC().Format(time.RFC3339Nano))

	return out
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
