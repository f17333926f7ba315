package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/idempotency"
	"github.com/example/tendo/internal/testutil"
)

type fakeExpirer struct {
	batches []int
	calls   int32
}

func (f *fakeExpirer) ExpireStale(_ context.Context, limit int) (int, error) {
	i := int(atomic.AddInt32(&f.calls, 1)) - 1
	if i >= len(f.batches) {
		return 0, nil
	}
	if f.batches[i] > limit {
		return limit, nil
	}
	return f.batches[i], nil
}

func TestPaymentExpiryRunOnceDrainsFullBatches(t *testing.T) {
	expirer := &fakeExpirer{batches: []int{100, 100, 7}}
	w := NewPaymentExpiryWorker(expirer, time.Minute, zap.NewNop())

	assert.Equal(t, 207, w.RunOnce(context.Background()))
	assert.EqualValues(t, 3, atomic.LoadInt32(&expirer.calls))
}

func TestPaymentExpiryRunStopsOnCancel(t *testing.T) {
	expirer := &fakeExpirer{batches: []int{1}}
	w := NewPaymentExpiryWorker(expirer, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&expirer.calls) > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestIdempotencyPurgeRemovesExpiredRecords(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := idempotency.NewGormStore(db).WithClock(func() time.Time { return now })
	user := uuid.New()

	for _, key := range []string{"old-1", "old-2"} {
		res, err := store.Begin(ctx, idempotency.BeginParams{Key: key, UserID: &user, RequestHash: "h", TTL: time.Hour})
		require.NoError(t, err)
		require.Equal(t, idempotency.StateNew, res.State)
	}
	res, err := store.Begin(ctx, idempotency.BeginParams{Key: "fresh", UserID: &user, RequestHash: "h", TTL: 72 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, idempotency.StateNew, res.State)

	w := NewIdempotencyPurgeWorker(store, time.Hour, zap.NewNop())
	w.now = func() time.Time { return now.Add(2 * time.Hour) }

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	res, err = store.Begin(ctx, idempotency.BeginParams{Key: "fresh", UserID: &user, RequestHash: "h", TTL: 72 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateInProgress, res.State)

	res, err = store.Begin(ctx, idempotency.BeginParams{Key: "old-1", UserID: &user, RequestHash: "h", TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateNew, res.State)
}
