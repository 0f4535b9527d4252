// Package syncer replays queued operations against the remote backend when
// the device is online.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"offlinesync/internal/events"
	"offlinesync/internal/metrics"
	"offlinesync/internal/models"
	"offlinesync/internal/network"
	"offlinesync/internal/queue"
	"offlinesync/internal/remote"

	"github.com/rs/zerolog"
)

var ErrDrainInProgress = errors.New("drain already in progress")

// Trigger names what started a drain pass.
type Trigger string

const (
	TriggerEnqueue   Trigger = "enqueue"
	TriggerReconnect Trigger = "reconnect"
	TriggerManual    Trigger = "manual"
	TriggerSchedule  Trigger = "schedule"
	TriggerRetry     Trigger = "retry"
	TriggerStartup   Trigger = "startup"
)

// DeadLetterSink receives operations the engine gave up on.
type DeadLetterSink interface {
	Push(ctx context.Context, op models.SyncOperation) error
}

// Result summarizes one drain pass.
type Result struct {
	Succeeded   int                    `json:"succeeded"`
	Failed      int                    `json:"failed"`
	Dropped     int                    `json:"dropped"`
	DroppedOps  []models.SyncOperation `json:"dropped_ops,omitempty"`
	Interrupted bool                   `json:"interrupted"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

type Options struct {
	Retry RetryPolicy
	// AutoRetry schedules a follow-up pass with backoff while failures remain.
	AutoRetry  bool
	Bus        *events.EventBus
	DeadLetter DeadLetterSink
	Logger     *zerolog.Logger
}

// Engine drains the queue one operation at a time. At most one pass runs at
// any moment.
type Engine struct {
	store     queue.Store
	executor  remote.Executor
	network   network.Source
	policy    RetryPolicy
	autoRetry bool
	bus       *events.EventBus
	dead      DeadLetterSink
	logger    *zerolog.Logger

	draining atomic.Bool
	trailing atomic.Bool

	mu           sync.Mutex
	removed      map[string]struct{}
	cleared      bool
	inflight     string
	retryTimer   *time.Timer
	retryAttempt int
	unsubscribe  func()
	stopped      bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewEngine(store queue.Store, executor remote.Executor, source network.Source, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     store,
		executor:  executor,
		network:   source,
		policy:    opts.Retry.withDefaults(),
		autoRetry: opts.AutoRetry,
		bus:       opts.Bus,
		dead:      opts.DeadLetter,
		logger:    logger,
		removed:   make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to connectivity changes and drains leftovers from a
// previous run when already online. Cancelling ctx stops the engine.
func (e *Engine) Start(ctx context.Context) {
	unsubscribe := e.network.Subscribe(func(prev, cur network.Status) {
		e.publish(events.EventConnectivityChanged, events.ConnectivityEventPayload{
			Online:        cur.Online(),
			TransportType: cur.TransportType,
			QueueSize:     e.queueSize(e.ctx),
		})
		if !prev.Online() && cur.Online() {
			e.logger.Info().Msg("Connectivity restored, draining queue")
			// a pass that is winding down after going offline runs again
			e.trigger(TriggerReconnect, true)
		}
	})

	e.mu.Lock()
	e.unsubscribe = unsubscribe
	e.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-e.ctx.Done():
		}
	}()

	if e.Online() {
		if n, err := e.store.Size(ctx); err == nil && n > 0 {
			e.trigger(TriggerStartup, false)
		}
	}
	e.logger.Info().Int("max_retries", e.policy.MaxRetries).Msg("Sync engine started")
}

// Stop detaches from the network source, cancels the running pass and waits
// for background passes to return.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		if e.retryTimer != nil {
			e.retryTimer.Stop()
		}
		e.mu.Unlock()

		e.cancel()
		e.wg.Wait()
		e.logger.Info().Msg("Sync engine stopped")
	})
}

// Wait blocks until no background pass is running.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Online() bool {
	return e.network.Current().Online()
}

func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// EnqueueAndMaybeSync persists op and, when online, starts a background
// drain. The stored operation (with its generated id) is returned.
func (e *Engine) EnqueueAndMaybeSync(ctx context.Context, op models.SyncOperation) (models.SyncOperation, error) {
	if err := e.store.Enqueue(ctx, &op); err != nil {
		if !errors.Is(err, models.ErrInvalidOperation) && !errors.Is(err, queue.ErrDuplicateID) {
			metrics.IncStoreError("enqueue")
			e.logger.Error().Err(err).Str("resource_type", op.ResourceType).Msg("Failed to enqueue operation")
		}
		return op, fmt.Errorf("enqueue: %w", err)
	}

	size := e.queueSize(ctx)
	e.publish(events.EventQueueEnqueued, events.QueueEventPayload{
		OperationID:  op.ID,
		Kind:         string(op.Kind),
		ResourceType: op.ResourceType,
		ResourceID:   op.ResourceID,
		QueueSize:    size,
	})
	e.logger.Debug().
		Str("id", op.ID).
		Str("kind", string(op.Kind)).
		Str("resource_type", op.ResourceType).
		Str("resource_id", op.ResourceID).
		Msg("Operation enqueued")

	if e.Online() {
		e.trigger(TriggerEnqueue, true)
	}
	return op, nil
}

// SyncNow runs a pass synchronously. It returns ErrDrainInProgress when
// another pass is already running.
func (e *Engine) SyncNow(ctx context.Context) (Result, error) {
	if !e.draining.CompareAndSwap(false, true) {
		return Result{}, ErrDrainInProgress
	}
	res := e.drain(ctx, TriggerManual)
	e.finish(res)
	return res, nil
}

// RemoveItem deletes one operation. Unknown ids are ignored. An operation
// removed while a pass is running is skipped by that pass.
func (e *Engine) RemoveItem(ctx context.Context, id string) error {
	e.mu.Lock()
	e.removed[id] = struct{}{}
	e.mu.Unlock()

	if err := e.store.Remove(ctx, id); err != nil {
		metrics.IncStoreError("remove")
		e.logger.Error().Err(err).Str("id", id).Msg("Failed to remove operation")
		return fmt.Errorf("remove %s: %w", id, err)
	}
	e.publish(events.EventQueueRemoved, events.QueueEventPayload{OperationID: id, QueueSize: e.queueSize(ctx)})
	return nil
}

// ClearQueue drops every pending operation, including those the running
// pass has not reached yet.
func (e *Engine) ClearQueue(ctx context.Context) error {
	e.mu.Lock()
	e.cleared = true
	e.mu.Unlock()

	if err := e.store.Clear(ctx); err != nil {
		metrics.IncStoreError("clear")
		e.logger.Error().Err(err).Msg("Failed to clear queue")
		return fmt.Errorf("clear queue: %w", err)
	}
	e.resetBackoff()
	e.publish(events.EventQueueCleared, events.QueueEventPayload{QueueSize: 0})
	e.logger.Info().Msg("Queue cleared")
	return nil
}

// QueueSnapshot returns the pending operations in FIFO order with their
// display status. A storage failure yields an empty snapshot.
func (e *Engine) QueueSnapshot(ctx context.Context) []models.SyncOperation {
	ops, err := e.store.List(ctx)
	if err != nil {
		metrics.IncStoreError("list")
		e.logger.Error().Err(err).Msg("Failed to read queue, reporting empty snapshot")
		return []models.SyncOperation{}
	}

	e.mu.Lock()
	inflight := e.inflight
	e.mu.Unlock()

	for i := range ops {
		if ops[i].ID == inflight {
			ops[i].Status = models.StatusSyncing
			continue
		}
		ops[i].Status = ops[i].DeriveStatus()
	}
	return ops
}

func (e *Engine) Stats(ctx context.Context) models.QueueStats {
	ops := e.QueueSnapshot(ctx)
	stats := models.QueueStats{TotalPending: len(ops)}
	for i := range ops {
		if ops[i].RetryCount > 0 {
			stats.FailedCount++
		}
	}
	return stats
}

// trigger starts a background pass. When one is already running and trail is
// set, a single follow-up pass is requested instead.
func (e *Engine) trigger(t Trigger, trail bool) bool {
	for {
		if e.draining.CompareAndSwap(false, true) {
			e.mu.Lock()
			if e.stopped {
				e.mu.Unlock()
				e.draining.Store(false)
				return false
			}
			e.wg.Add(1)
			e.mu.Unlock()
			go func() {
				defer e.wg.Done()
				res := e.drain(e.ctx, t)
				e.finish(res)
			}()
			return true
		}
		if !trail {
			e.logger.Debug().Str("trigger", string(t)).Msg("Drain already running, trigger ignored")
			return false
		}
		e.trailing.Store(true)
		if e.draining.Load() {
			return false
		}
		// the running pass finished between the swap and the flag
	}
}

// finish releases the drain flag and runs follow-up work for res.
func (e *Engine) finish(res Result) {
	e.draining.Store(false)

	if e.trailing.Swap(false) && e.Online() {
		e.trigger(TriggerEnqueue, true)
		return
	}
	e.scheduleRetry(res)
}

func (e *Engine) scheduleRetry(res Result) {
	if res.Failed == 0 {
		e.resetBackoff()
		return
	}
	if !e.autoRetry || res.Interrupted || !e.Online() || e.ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryAttempt++
	delay := e.policy.NextDelay(e.retryAttempt)
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(delay, func() {
		if e.Online() {
			e.trigger(TriggerRetry, false)
		}
	})
	e.logger.Info().Int("attempt", e.retryAttempt).Dur("delay", delay).Msg("Retry pass scheduled")
}

func (e *Engine) resetBackoff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryAttempt = 0
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

// drain runs one pass over a snapshot of the queue. The caller owns the
// draining flag.
func (e *Engine) drain(ctx context.Context, trigger Trigger) Result {
	res := Result{StartedAt: time.Now()}

	e.mu.Lock()
	e.removed = make(map[string]struct{})
	e.cleared = false
	e.mu.Unlock()

	metrics.IncDrain(string(trigger))
	e.publish(events.EventDrainStarted, events.DrainEventPayload{})

	ops, err := e.store.List(ctx)
	if err != nil {
		metrics.IncStoreError("list")
		e.logger.Error().Err(err).Msg("Failed to read queue, nothing to drain")
		ops = nil
	}

	log := e.logger.With().Str("trigger", string(trigger)).Int("pending", len(ops)).Logger()
	log.Debug().Msg("Drain started")

	for i := range ops {
		op := ops[i]
		if ctx.Err() != nil || !e.Online() {
			res.Interrupted = true
			break
		}
		if e.skipped(op.ID) {
			continue
		}
		if !e.process(ctx, op, &res) {
			res.Interrupted = true
			break
		}
	}

	e.mu.Lock()
	e.inflight = ""
	e.mu.Unlock()

	res.FinishedAt = time.Now()
	duration := res.FinishedAt.Sub(res.StartedAt)
	metrics.ObserveDrain(duration.Seconds())
	metrics.SetQueueDepth(e.queueSize(ctx))
	e.publish(events.EventDrainFinished, events.DrainEventPayload{
		Succeeded:   res.Succeeded,
		Failed:      res.Failed,
		Dropped:     res.Dropped,
		Interrupted: res.Interrupted,
		Duration:    duration,
	})

	log.Info().
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("dropped", res.Dropped).
		Bool("interrupted", res.Interrupted).
		Dur("duration", duration).
		Msg("Drain finished")
	return res
}

// process executes one operation and records the outcome. It returns false
// when ctx was cancelled mid-call and the pass must stop.
func (e *Engine) process(ctx context.Context, op models.SyncOperation, res *Result) bool {
	e.mu.Lock()
	e.inflight = op.ID
	e.mu.Unlock()

	err := e.executor.Execute(ctx, op)

	e.mu.Lock()
	e.inflight = ""
	e.mu.Unlock()

	if err == nil {
		res.Succeeded++
		metrics.IncOperation(op.ResourceType, "succeeded")
		if e.skipped(op.ID) {
			return true
		}
		if rerr := e.store.Remove(ctx, op.ID); rerr != nil {
			metrics.IncStoreError("remove")
			e.logger.Error().Err(rerr).Str("id", op.ID).Msg("Failed to remove synced operation")
		}
		e.publish(events.EventOperationSynced, events.QueueEventPayload{
			OperationID:  op.ID,
			Kind:         string(op.Kind),
			ResourceType: op.ResourceType,
			ResourceID:   op.ResourceID,
			QueueSize:    e.queueSize(ctx),
		})
		return true
	}

	if ctx.Err() != nil {
		return false
	}
	if e.skipped(op.ID) {
		return true
	}

	op.RetryCount++
	op.LastError = err.Error()

	if remote.IsPermanent(err) || e.policy.Exhausted(op.RetryCount) {
		e.dropOperation(ctx, op, err, res)
		return true
	}

	op.Status = models.StatusFailed
	found, uerr := e.store.Update(ctx, op)
	if uerr != nil {
		metrics.IncStoreError("update")
		e.logger.Error().Err(uerr).Str("id", op.ID).Msg("Failed to persist retry count")
	}
	if !found && uerr == nil {
		return true
	}

	res.Failed++
	metrics.IncOperation(op.ResourceType, "failed")
	e.logger.Warn().
		Err(err).
		Str("id", op.ID).
		Str("resource_type", op.ResourceType).
		Int("retry_count", op.RetryCount).
		Msg("Operation failed, will retry")
	e.publish(events.EventOperationFailed, events.QueueEventPayload{
		OperationID:  op.ID,
		Kind:         string(op.Kind),
		ResourceType: op.ResourceType,
		ResourceID:   op.ResourceID,
		RetryCount:   op.RetryCount,
		Error:        op.LastError,
		QueueSize:    e.queueSize(ctx),
	})
	return true
}

func (e *Engine) dropOperation(ctx context.Context, op models.SyncOperation, cause error, res *Result) {
	op.Status = models.StatusFailed
	if err := e.store.Remove(ctx, op.ID); err != nil {
		metrics.IncStoreError("remove")
		e.logger.Error().Err(err).Str("id", op.ID).Msg("Failed to remove dropped operation")
	}

	res.Dropped++
	res.DroppedOps = append(res.DroppedOps, op)
	metrics.IncOperation(op.ResourceType, "dropped")

	e.logger.Error().
		Err(cause).
		Str("id", op.ID).
		Str("kind", string(op.Kind)).
		Str("resource_type", op.ResourceType).
		Str("resource_id", op.ResourceID).
		Int("retry_count", op.RetryCount).
		Bool("permanent", remote.IsPermanent(cause)).
		Msg("Operation dropped")

	if e.dead != nil {
		if err := e.dead.Push(ctx, op); err != nil {
			e.logger.Warn().Err(err).Str("id", op.ID).Msg("Failed to dead-letter operation")
		}
	}

	e.publish(events.EventOperationDropped, events.QueueEventPayload{
		OperationID:  op.ID,
		Kind:         string(op.Kind),
		ResourceType: op.ResourceType,
		ResourceID:   op.ResourceID,
		RetryCount:   op.RetryCount,
		Error:        op.LastError,
		QueueSize:    e.queueSize(ctx),
	})
}

// skipped reports whether id was removed or cleared during the current pass.
func (e *Engine) skipped(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cleared {
		return true
	}
	_, ok := e.removed[id]
	return ok
}

func (e *Engine) queueSize(ctx context.Context) int {
	n, err := e.store.Size(ctx)
	if err != nil {
		return 0
	}
	metrics.SetQueueDepth(n)
	return n
}

func (e *Engine) publish(eventType string, payload interface{}) {
	if err := e.bus.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
