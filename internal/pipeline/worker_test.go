package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Jenks18/kara-sub001/internal/models"
)

type staticRequeueSource struct {
	ids []uuid.UUID
}

func (s staticRequeueSource) ListRequeueable(context.Context, time.Duration, int) ([]uuid.UUID, error) {
	return s.ids, nil
}

func TestWorkerPoolProcessesEnqueued(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	raw := store.addPending("user-1", nil, nil)

	orch := NewOrchestrator(
		store, store, store,
		fakeFetcher{}, fakeQR{result: verifiedQR(220)},
		fakeOCR{}, fakeResolver{}, fakeExtractor{},
		testConfig(),
	)
	pool := NewWorkerPool(orch, staticRequeueSource{}, 2, 16, time.Hour, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.True(t, pool.Enqueue(raw.ID))

	require.Eventually(t, func() bool {
		return store.rawStatus(raw.ID).IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, models.ProcessingStatusParsed, store.rawStatus(raw.ID))
}

func TestWorkerPoolEnqueueFullQueue(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	orch := NewOrchestrator(
		store, store, store,
		fakeFetcher{}, fakeQR{}, fakeOCR{}, fakeResolver{}, fakeExtractor{},
		testConfig(),
	)

	// Pool is never started, so the queue only drains by capacity.
	pool := NewWorkerPool(orch, staticRequeueSource{}, 1, 2, time.Hour, time.Minute)

	require.True(t, pool.Enqueue(uuid.New()))
	require.True(t, pool.Enqueue(uuid.New()))
	require.False(t, pool.Enqueue(uuid.New()))
}

func TestWorkerPoolRequeuePollerPicksUpStale(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	raw := store.addPending("user-1", nil, nil)

	orch := NewOrchestrator(
		store, store, store,
		fakeFetcher{}, fakeQR{result: verifiedQR(220)},
		fakeOCR{}, fakeResolver{}, fakeExtractor{},
		testConfig(),
	)
	pool := NewWorkerPool(orch, staticRequeueSource{ids: []uuid.UUID{raw.ID}}, 1, 4, 20*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	// Never enqueued directly; only the poller can find it.
	require.Eventually(t, func() bool {
		return store.rawStatus(raw.ID).IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)
}
