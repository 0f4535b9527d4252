package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"offlinesync/internal/events"
	"offlinesync/internal/models"
	"offlinesync/internal/network"
	"offlinesync/internal/queue"
	"offlinesync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    func(op models.SyncOperation) error
}

func (f *fakeExecutor) Execute(ctx context.Context, op models.SyncOperation) error {
	f.mu.Lock()
	f.calls = append(f.calls, op.ID)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeDeadLetter struct {
	mu  sync.Mutex
	ops []models.SyncOperation
}

func (d *fakeDeadLetter) Push(ctx context.Context, op models.SyncOperation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
	return nil
}

type brokenStore struct {
	*queue.MemoryStore
}

func (s brokenStore) List(ctx context.Context) ([]models.SyncOperation, error) {
	return nil, errors.New("disk I/O error")
}

func (s brokenStore) Size(ctx context.Context) (int, error) {
	return 0, errors.New("disk I/O error")
}

var online = network.Status{IsConnected: true, TransportType: "wifi"}

type harness struct {
	store    *queue.MemoryStore
	exec     *fakeExecutor
	observer *network.Observer
	dead     *fakeDeadLetter
	bus      *events.EventBus
	engine   *Engine
}

func newHarness(t *testing.T, initial network.Status, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:    queue.NewMemoryStore(),
		exec:     &fakeExecutor{},
		observer: network.NewObserver(initial, nil),
		dead:     &fakeDeadLetter{},
		bus:      events.NewEventBus(),
	}
	opts.Bus = h.bus
	opts.DeadLetter = h.dead
	h.engine = NewEngine(h.store, h.exec, h.observer, opts)
	t.Cleanup(h.engine.Stop)
	return h
}

func taskOp(id string) models.SyncOperation {
	return models.SyncOperation{
		ID:           id,
		Kind:         models.KindCreate,
		ResourceType: models.ResourceTask,
		ResourceID:   "task-" + id,
		Payload:      json.RawMessage(`{"id":"task-` + id + `"}`),
	}
}

// enqueueOffline fills the queue without triggering a drain and then flips
// the observer online. The engine is not started, so no pass runs.
func (h *harness) enqueueOffline(t *testing.T, ids ...string) {
	t.Helper()
	h.observer.Report(network.Status{})
	for _, id := range ids {
		_, err := h.engine.EnqueueAndMaybeSync(context.Background(), taskOp(id))
		require.NoError(t, err)
	}
	h.observer.Report(online)
}

func (h *harness) queued(t *testing.T) []string {
	t.Helper()
	ops, err := h.store.List(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.ID)
	}
	return out
}

func TestSyncNowDrainsInOrder(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.enqueueOffline(t, "a", "b", "c")

	var synced []string
	h.bus.Subscribe(events.EventOperationSynced, func(ev *events.Event) error {
		var p events.QueueEventPayload
		require.NoError(t, ev.Decode(&p))
		synced = append(synced, p.OperationID)
		return nil
	})

	res, err := h.engine.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, h.exec.Calls())
	assert.Equal(t, []string{"a", "b", "c"}, synced)
	assert.Equal(t, 3, res.Succeeded)
	assert.False(t, res.Interrupted)
	assert.Empty(t, h.queued(t))
	assert.False(t, h.engine.Draining())
}

func TestSyncNowRetainsFailedOperation(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.enqueueOffline(t, "op1", "op2")
	h.exec.fn = func(op models.SyncOperation) error {
		if op.ID == "op2" {
			return errors.New("503 service unavailable")
		}
		return nil
	}

	res, err := h.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	ops := h.engine.QueueSnapshot(context.Background())
	require.Len(t, ops, 1)
	assert.Equal(t, "op2", ops[0].ID)
	assert.Equal(t, 1, ops[0].RetryCount)
	assert.Equal(t, models.StatusFailed, ops[0].Status)
	assert.Contains(t, ops[0].LastError, "503")

	stats := h.engine.Stats(context.Background())
	assert.Equal(t, models.QueueStats{TotalPending: 1, FailedCount: 1}, stats)
}

func TestReconnectDrainsTwoItemExample(t *testing.T) {
	h := newHarness(t, network.Status{}, Options{})
	h.engine.Start(context.Background())

	ctx := context.Background()
	for _, op := range []models.SyncOperation{
		{ID: "a", Kind: models.KindCreate, ResourceType: models.ResourceTask, ResourceID: "t1"},
		{ID: "b", Kind: models.KindUpdate, ResourceType: models.ResourceTask, ResourceID: "t1"},
	} {
		_, err := h.engine.EnqueueAndMaybeSync(ctx, op)
		require.NoError(t, err)
	}
	n, err := h.store.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var finished []events.DrainEventPayload
	h.bus.Subscribe(events.EventDrainFinished, func(ev *events.Event) error {
		var p events.DrainEventPayload
		require.NoError(t, ev.Decode(&p))
		finished = append(finished, p)
		return nil
	})

	h.observer.Report(online)
	h.engine.Wait()

	assert.Equal(t, []string{"a", "b"}, h.exec.Calls())
	assert.Empty(t, h.queued(t))
	require.Len(t, finished, 1)
	assert.Equal(t, 2, finished[0].Succeeded)
	assert.Zero(t, finished[0].Failed)
	assert.Zero(t, finished[0].Dropped)
}

func TestReconnectWhilePassWindsDown(t *testing.T) {
	h := newHarness(t, network.Status{}, Options{})
	h.engine.Start(context.Background())
	for _, id := range []string{"a", "b"} {
		_, err := h.engine.EnqueueAndMaybeSync(context.Background(), taskOp(id))
		require.NoError(t, err)
	}

	h.exec.fn = func(op models.SyncOperation) error {
		if op.ID == "a" {
			h.observer.Report(network.Status{})
		}
		return nil
	}
	var reconnected bool
	h.bus.Subscribe(events.EventDrainFinished, func(ev *events.Event) error {
		if !reconnected {
			reconnected = true
			h.observer.Report(online)
		}
		return nil
	})

	h.observer.Report(online)
	h.engine.Wait()

	assert.True(t, h.engine.Online())
	assert.Equal(t, []string{"a", "b"}, h.exec.Calls())
	assert.Empty(t, h.queued(t))
}

func TestConnectivityChangesArePublished(t *testing.T) {
	h := newHarness(t, network.Status{}, Options{})
	h.engine.Start(context.Background())

	var changes []events.ConnectivityEventPayload
	h.bus.Subscribe(events.EventConnectivityChanged, func(ev *events.Event) error {
		var p events.ConnectivityEventPayload
		require.NoError(t, ev.Decode(&p))
		changes = append(changes, p)
		return nil
	})

	h.observer.Report(online)
	h.engine.Wait()
	h.observer.Report(online)
	h.observer.Report(network.Status{})

	require.Len(t, changes, 2)
	assert.True(t, changes[0].Online)
	assert.Equal(t, "wifi", changes[0].TransportType)
	assert.False(t, changes[1].Online)
}

func TestRetriesAreBounded(t *testing.T) {
	h := newHarness(t, online, Options{Retry: RetryPolicy{MaxRetries: 3}})
	h.enqueueOffline(t, "x")
	h.exec.fn = func(models.SyncOperation) error { return errors.New("timeout") }

	var dropped []events.QueueEventPayload
	h.bus.Subscribe(events.EventOperationDropped, func(ev *events.Event) error {
		var p events.QueueEventPayload
		require.NoError(t, ev.Decode(&p))
		dropped = append(dropped, p)
		return nil
	})

	for i := 1; i <= 2; i++ {
		res, err := h.engine.SyncNow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, []string{"x"}, h.queued(t))
	}

	res, err := h.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.DroppedOps, 1)
	assert.Equal(t, 3, res.DroppedOps[0].RetryCount)
	assert.Empty(t, h.queued(t))

	res, err = h.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded+res.Failed+res.Dropped)

	assert.Len(t, h.exec.Calls(), 3)
	require.Len(t, h.dead.ops, 1)
	assert.Equal(t, "x", h.dead.ops[0].ID)
	require.Len(t, dropped, 1)
	assert.Equal(t, 3, dropped[0].RetryCount)
}

func TestPermanentErrorDropsImmediately(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.enqueueOffline(t, "bad", "good")
	h.exec.fn = func(op models.SyncOperation) error {
		if op.ID == "bad" {
			return remote.Permanent(errors.New("422 unprocessable"))
		}
		return nil
	}

	res, err := h.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, h.queued(t))
	require.Len(t, h.dead.ops, 1)
	assert.Equal(t, "bad", h.dead.ops[0].ID)
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	h := newHarness(t, network.Status{}, Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := h.engine.EnqueueAndMaybeSync(ctx, taskOp(id))
		require.NoError(t, err)
	}

	require.NoError(t, h.engine.RemoveItem(ctx, "a"))
	require.NoError(t, h.engine.RemoveItem(ctx, "a"))
	require.NoError(t, h.engine.RemoveItem(ctx, "unknown"))
	assert.Equal(t, []string{"b"}, h.queued(t))

	require.NoError(t, h.engine.ClearQueue(ctx))
	assert.Empty(t, h.queued(t))
	assert.Empty(t, h.exec.Calls())
}

func TestEnqueueRejectsInvalidOperation(t *testing.T) {
	h := newHarness(t, online, Options{})
	_, err := h.engine.EnqueueAndMaybeSync(context.Background(), models.SyncOperation{Kind: "upsert", ResourceType: "task", ResourceID: "1"})
	assert.ErrorIs(t, err, models.ErrInvalidOperation)
	assert.Empty(t, h.queued(t))
}

// blockOn makes the executor wait on the returned channel when it reaches id.
func blockOn(h *harness, id string, result error) (started chan struct{}, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	h.exec.fn = func(op models.SyncOperation) error {
		if op.ID == id {
			close(started)
			<-release
			return result
		}
		return nil
	}
	return started, release
}

func TestNoConcurrentDrains(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.enqueueOffline(t, "a")
	started, release := blockOn(h, "a", nil)

	done := make(chan Result)
	go func() {
		res, err := h.engine.SyncNow(context.Background())
		assert.NoError(t, err)
		done <- res
	}()
	<-started

	assert.True(t, h.engine.Draining())
	_, err := h.engine.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)
	assert.False(t, h.engine.trigger(TriggerSchedule, false))

	close(release)
	res := <-done
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []string{"a"}, h.exec.Calls())
	assert.False(t, h.engine.Draining())
}

func TestRemovalDuringPassIsSkipped(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.enqueueOffline(t, "a", "b", "c")
	started, release := blockOn(h, "a", errors.New("timeout"))

	done := make(chan Result)
	go func() {
		res, _ := h.engine.SyncNow(context.Background())
		done <- res
	}()
	<-started

	ops := h.engine.QueueSnapshot(context.Background())
	require.Len(t, ops, 3)
	assert.Equal(t, models.StatusSyncing, ops[0].Status)

	require.NoError(t, h.engine.RemoveItem(context.Background(), "a"))
	require.NoError(t, h.engine.RemoveItem(context.Background(), "b"))
	close(release)
	res := <-done

	assert.Equal(t, []string{"a", "c"}, h.exec.Calls())
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, h.queued(t))
}

func TestClearDuringPassStopsRemainingItems(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.enqueueOffline(t, "a", "b", "c")
	started, release := blockOn(h, "a", nil)

	done := make(chan Result)
	go func() {
		res, _ := h.engine.SyncNow(context.Background())
		done <- res
	}()
	<-started

	require.NoError(t, h.engine.ClearQueue(context.Background()))
	close(release)
	<-done

	assert.Equal(t, []string{"a"}, h.exec.Calls())
	assert.Empty(t, h.queued(t))
}

func TestGoingOfflineInterruptsPass(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.enqueueOffline(t, "a", "b")
	h.exec.fn = func(op models.SyncOperation) error {
		h.observer.Report(network.Status{IsConnected: true, IsReachable: network.Reachable(false)})
		return nil
	}

	res, err := h.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []string{"b"}, h.queued(t))
}

func TestEnqueueWhileOnlineDrains(t *testing.T) {
	h := newHarness(t, online, Options{})

	op, err := h.engine.EnqueueAndMaybeSync(context.Background(), taskOp("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", op.ID)
	h.engine.Wait()

	assert.Equal(t, []string{"a"}, h.exec.Calls())
	assert.Empty(t, h.queued(t))
}

func TestEnqueueWhileOfflineWaitsForReconnect(t *testing.T) {
	h := newHarness(t, network.Status{}, Options{})
	h.engine.Start(context.Background())

	_, err := h.engine.EnqueueAndMaybeSync(context.Background(), taskOp("a"))
	require.NoError(t, err)
	h.engine.Wait()
	assert.Empty(t, h.exec.Calls())
	assert.Equal(t, []string{"a"}, h.queued(t))

	h.observer.Report(online)
	h.engine.Wait()

	assert.Equal(t, []string{"a"}, h.exec.Calls())
	assert.Empty(t, h.queued(t))
}

func TestStartDrainsLeftovers(t *testing.T) {
	h := newHarness(t, network.Status{}, Options{})
	h.enqueueOffline(t, "a", "b")

	h.engine.Start(context.Background())
	h.engine.Wait()

	assert.Equal(t, []string{"a", "b"}, h.exec.Calls())
	assert.Empty(t, h.queued(t))
}

func TestEnqueueDuringPassRunsTrailingPass(t *testing.T) {
	h := newHarness(t, online, Options{})
	started, release := blockOn(h, "a", nil)

	_, err := h.engine.EnqueueAndMaybeSync(context.Background(), taskOp("a"))
	require.NoError(t, err)
	<-started

	_, err = h.engine.EnqueueAndMaybeSync(context.Background(), taskOp("b"))
	require.NoError(t, err)
	close(release)
	h.engine.Wait()

	assert.Equal(t, []string{"a", "b"}, h.exec.Calls())
	assert.Empty(t, h.queued(t))
}

func TestAutoRetryWithBackoff(t *testing.T) {
	h := newHarness(t, online, Options{
		AutoRetry: true,
		Retry:     RetryPolicy{MaxRetries: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
	})

	var mu sync.Mutex
	attempts := 0
	h.exec.fn = func(models.SyncOperation) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("502 bad gateway")
		}
		return nil
	}

	_, err := h.engine.EnqueueAndMaybeSync(context.Background(), taskOp("a"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, _ := h.store.Size(context.Background())
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestStorageFailureDegradesToEmpty(t *testing.T) {
	exec := &fakeExecutor{}
	observer := network.NewObserver(online, nil)
	e := NewEngine(brokenStore{queue.NewMemoryStore()}, exec, observer, Options{})
	t.Cleanup(e.Stop)

	assert.Empty(t, e.QueueSnapshot(context.Background()))
	assert.Equal(t, models.QueueStats{}, e.Stats(context.Background()))

	res, err := e.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	assert.Empty(t, exec.Calls())
}

func TestStopCancelsBackgroundWork(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.exec.fn = func(models.SyncOperation) error { return nil }
	h.engine.Start(context.Background())
	h.engine.Stop()

	_, err := h.engine.EnqueueAndMaybeSync(context.Background(), taskOp("a"))
	require.NoError(t, err)
	h.engine.Wait()

	assert.Empty(t, h.exec.Calls())
	assert.Equal(t, []string{"a"}, h.queued(t))
}

func TestEnqueueEntity(t *testing.T) {
	h := newHarness(t, network.Status{}, Options{})
	due := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	op, err := EnqueueEntity(context.Background(), h.engine, models.KindUpdate, &models.Task{ID: "t-7", Title: "Replace filter", DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, models.ResourceTask, op.ResourceType)
	assert.Equal(t, "t-7", op.ResourceID)

	ops := h.engine.QueueSnapshot(context.Background())
	require.Len(t, ops, 1)
	task, err := models.DecodePayload[models.Task](ops[0])
	require.NoError(t, err)
	assert.Equal(t, "Replace filter", task.Title)
}
