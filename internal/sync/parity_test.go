package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// insertShadowOrder seeds a legacy-path snapshot row. In production the
// legacy writer owns these inserts.
func insertShadowOrder(t *testing.T, store *Store, o *LocalOrder) {
	t.Helper()

	_, err := store.db.ExecContext(context.Background(), `
		INSERT INTO shadow_orders
			(order_number, external_id, status, customer, total_cents, currency, modified_at, written_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderNumber, o.ExternalID, o.Status, o.Customer, o.TotalCents, o.Currency, o.ModifiedAt, NowNano(),
	)
	require.NoError(t, err)
}

func TestValidateParity(t *testing.T) {
	from := testHorizon
	to := testHorizon.Add(24 * time.Hour)
	modified := testHorizon.Add(time.Hour)

	t.Run("matching window is cutover ready", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		for _, num := range []string{"WEB-1001", "POS-2001"} {
			o := makeTestOrder(num, strPtr("ext-"+num), OriginRemote, modified)
			require.NoError(t, store.UpsertOrder(ctx, o))
			insertShadowOrder(t, store, o)
		}

		v := NewParityValidator(store, testLogger(t))

		report, err := v.ValidateParity(ctx, from, to)
		require.NoError(t, err)
		assert.True(t, report.CutoverReady())
		assert.Equal(t, 2, report.MatchedCount)
		assert.Empty(t, report.Discrepancies)
	})

	t.Run("field mismatch blocks cutover", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		o := makeTestOrder("WEB-1001", strPtr("ext-1"), OriginRemote, modified)
		require.NoError(t, store.UpsertOrder(ctx, o))

		legacy := *o
		legacy.Status = "cancelled"
		legacy.TotalCents = 9999
		insertShadowOrder(t, store, &legacy)

		v := NewParityValidator(store, testLogger(t))

		report, err := v.ValidateParity(ctx, from, to)
		require.NoError(t, err)
		assert.False(t, report.CutoverReady())
		assert.Zero(t, report.MatchedCount)

		fields := make(map[string]Discrepancy)
		for _, d := range report.Discrepancies {
			fields[d.Field] = d
		}

		require.Contains(t, fields, "status")
		assert.Equal(t, "cancelled", fields["status"].Legacy)
		assert.Equal(t, "confirmed", fields["status"].New)
		require.Contains(t, fields, "total_cents")
		assert.Equal(t, "9999", fields["total_cents"].Legacy)
	})

	t.Run("order only in legacy snapshot", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		insertShadowOrder(t, store, makeTestOrder("WEB-1001", strPtr("ext-1"), OriginRemote, modified))

		v := NewParityValidator(store, testLogger(t))

		report, err := v.ValidateParity(ctx, from, to)
		require.NoError(t, err)
		require.Len(t, report.Discrepancies, 1)
		assert.Equal(t, "presence", report.Discrepancies[0].Field)
		assert.Equal(t, "present", report.Discrepancies[0].Legacy)
		assert.Equal(t, "missing", report.Discrepancies[0].New)
	})

	t.Run("order only in new path", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		require.NoError(t, store.UpsertOrder(ctx, makeTestOrder("WEB-1001", strPtr("ext-1"), OriginRemote, modified)))

		v := NewParityValidator(store, testLogger(t))

		report, err := v.ValidateParity(ctx, from, to)
		require.NoError(t, err)
		require.Len(t, report.Discrepancies, 1)
		assert.Equal(t, "presence", report.Discrepancies[0].Field)
		assert.Equal(t, "missing", report.Discrepancies[0].Legacy)
		assert.Equal(t, "present", report.Discrepancies[0].New)
	})

	t.Run("rows outside the window are ignored", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		outside := makeTestOrder("WEB-9999", strPtr("ext-9"), OriginRemote, to.Add(time.Hour))
		require.NoError(t, store.UpsertOrder(ctx, outside))
		insertShadowOrder(t, store, makeTestOrder("POS-9999", nil, OriginLocal, from.Add(-time.Hour)))

		v := NewParityValidator(store, testLogger(t))

		report, err := v.ValidateParity(ctx, from, to)
		require.NoError(t, err)
		assert.True(t, report.CutoverReady())
		assert.Zero(t, report.MatchedCount)
	})

	t.Run("empty window is trivially ready", func(t *testing.T) {
		store := newTestStore(t)

		v := NewParityValidator(store, testLogger(t))

		report, err := v.ValidateParity(context.Background(), from, to)
		require.NoError(t, err)
		assert.True(t, report.CutoverReady())
	})
}
