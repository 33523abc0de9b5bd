package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermark_FallsBackToHorizon(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Watermark(context.Background(), WorkflowOrders)
	require.NoError(t, err)
	assert.True(t, got.Equal(testHorizon))
}

func TestAdvanceWatermark_MovesForward(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testHorizon.Add(24 * time.Hour)
	second := first.Add(time.Hour)

	require.NoError(t, store.AdvanceWatermark(ctx, WorkflowOrders, first))
	require.NoError(t, store.AdvanceWatermark(ctx, WorkflowOrders, second))

	got, err := store.Watermark(ctx, WorkflowOrders)
	require.NoError(t, err)
	assert.True(t, got.Equal(second))
}

func TestAdvanceWatermark_EqualTimestampAccepted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := testHorizon.Add(24 * time.Hour)

	require.NoError(t, store.AdvanceWatermark(ctx, WorkflowOrders, ts))
	require.NoError(t, store.AdvanceWatermark(ctx, WorkflowOrders, ts))

	got, err := store.Watermark(ctx, WorkflowOrders)
	require.NoError(t, err)
	assert.True(t, got.Equal(ts))
}

func TestAdvanceWatermark_RegressionRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := testHorizon.Add(24 * time.Hour)
	require.NoError(t, store.AdvanceWatermark(ctx, WorkflowOrders, ts))

	err := store.AdvanceWatermark(ctx, WorkflowOrders, ts.Add(-time.Minute))
	require.ErrorIs(t, err, ErrWatermarkRegression)

	// Both timestamps appear in the message for diagnosis.
	assert.Contains(t, err.Error(), ts.UTC().Format(time.RFC3339Nano))

	got, gotErr := store.Watermark(ctx, WorkflowOrders)
	require.NoError(t, gotErr)
	assert.True(t, got.Equal(ts))
}

func TestAdvanceWatermark_PerWorkflowIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ordersTS := testHorizon.Add(24 * time.Hour)
	dailyTS := testHorizon.Add(2 * time.Hour)

	require.NoError(t, store.AdvanceWatermark(ctx, WorkflowOrders, ordersTS))
	require.NoError(t, store.AdvanceWatermark(ctx, WorkflowDaily, dailyTS))

	got, err := store.Watermark(ctx, WorkflowDaily)
	require.NoError(t, err)
	assert.True(t, got.Equal(dailyTS))
}

func TestResetWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AdvanceWatermark(ctx, WorkflowOrders, testHorizon.Add(time.Hour)))
	require.NoError(t, store.ResetWatermark(ctx, WorkflowOrders))

	got, err := store.Watermark(ctx, WorkflowOrders)
	require.NoError(t, err)
	assert.True(t, got.Equal(testHorizon))
}
