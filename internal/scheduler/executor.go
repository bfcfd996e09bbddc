package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/ovenKiller/lithelper/internal/notify"
	"github.com/ovenKiller/lithelper/internal/observability"
	"github.com/ovenKiller/lithelper/internal/store"
	"github.com/ovenKiller/lithelper/internal/task"
)

// Sentinel errors for executor admission and lifecycle.
var (
	// ErrUnsupportedKind indicates the task kind is not served by the executor.
	ErrUnsupportedKind = errors.New("unsupported task kind")
	// ErrQueueFull indicates both queues are at capacity.
	ErrQueueFull = errors.New("task queues full")
	// ErrExecutorStopped indicates a submission after Stop.
	ErrExecutorStopped = errors.New("executor stopped")
)

// QueueFullError reports the queue lengths at the moment of rejection.
type QueueFullError struct {
	Handler      string
	ExecutionLen int
	WaitingLen   int
}

// Error implements the error interface.
func (e *QueueFullError) Error() string {
	return fmt.Sprintf("%s: execution %d, waiting %d full", e.Handler, e.ExecutionLen, e.WaitingLen)
}

// Unwrap makes the error match [ErrQueueFull] under errors.Is.
func (e *QueueFullError) Unwrap() error {
	return ErrQueueFull
}

// RetentionStrategy selects how persisted tasks are retained across restarts.
type RetentionStrategy string

// Retention strategies.
const (
	// RetentionNone disables queue persistence; queues start empty.
	RetentionNone RetentionStrategy = "none"
	// RetentionFixedDuration persists queues and drops tasks older than the limit.
	RetentionFixedDuration RetentionStrategy = "fixed_duration"
	// RetentionFixedCount is reserved and not implemented.
	RetentionFixedCount RetentionStrategy = "fixed_count"
)

// Default loop cadence values.
const (
	// DefaultIdleInterval is the sleep when both queues are empty.
	DefaultIdleInterval = time.Second
	// DefaultYieldInterval is the pause between processing passes.
	DefaultYieldInterval = 100 * time.Millisecond
	// DefaultErrorBackoff is the pause after a processing pass error.
	DefaultErrorBackoff = 2 * time.Second
)

// ExecutorConfig holds the capacity and cadence knobs of one executor.
type ExecutorConfig struct {
	// MaxConcurrency bounds the number of simultaneously executing tasks.
	MaxConcurrency int
	// ExecutionCapacity bounds the execution queue length.
	ExecutionCapacity int
	// WaitingCapacity bounds the spill queue length. Zero disables spilling.
	WaitingCapacity int

	// IdleInterval, YieldInterval, and ErrorBackoff set the loop cadence.
	// Zero values use the package defaults.
	IdleInterval  time.Duration
	YieldInterval time.Duration
	ErrorBackoff  time.Duration

	// Retention selects the persistence strategy.
	Retention RetentionStrategy
	// RetentionLimit is the task age limit under RetentionFixedDuration.
	RetentionLimit time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}

	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}

	if c.YieldInterval <= 0 {
		c.YieldInterval = DefaultYieldInterval
	}

	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}

	if c.Retention == "" {
		c.Retention = RetentionNone
	}

	return c
}

// ExecutorDeps carries the optional collaborators of an executor.
// Store enables persistence (required for RetentionFixedDuration); Bus
// receives task terminal events; Metrics and Tracer enable telemetry.
type ExecutorDeps struct {
	Store   *store.QueueStore
	Bus     *notify.Bus
	Metrics *observability.TaskMetrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Executor owns two bounded task queues and runs tasks of its handler's kinds
// with bounded concurrency. All queue state (both queues, the in-flight count,
// the dirty flag) and every Task status transition happen under mu: the
// single-writer discipline the scheduler's correctness rests on.
type Executor struct {
	handler Handler
	cfg     ExecutorConfig
	deps    ExecutorDeps
	logger  *slog.Logger
	tracer  trace.Tracer

	mu        sync.Mutex
	execQueue []*task.Task
	waitQueue []*task.Task
	inFlight  int
	dirty     bool
	started   bool
	stopped   bool

	stopCh   chan struct{}
	loopDone chan struct{}
	tasks    sync.WaitGroup
}

// NewExecutor creates an executor for the handler with the given configuration.
func NewExecutor(handler Handler, cfg ExecutorConfig, deps ExecutorDeps) *Executor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	return &Executor{
		handler:  handler,
		cfg:      cfg.withDefaults(),
		deps:     deps,
		logger:   logger.With("handler", handler.Name()),
		tracer:   tracer,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Name returns the handler namespace.
func (e *Executor) Name() string {
	return e.handler.Name()
}

// SupportedKinds lists the task kinds this executor accepts.
func (e *Executor) SupportedKinds() []task.Kind {
	return e.handler.Kinds()
}

func (e *Executor) supports(kind task.Kind) bool {
	return slices.Contains(e.handler.Kinds(), kind)
}

// Submit admits a task into the execution queue, spilling to the waiting
// queue when full. Returns ErrUnsupportedKind, ErrExecutorStopped, or a
// QueueFullError when the task cannot be retained.
func (e *Executor) Submit(t *task.Task) error {
	validateErr := t.Validate()
	if validateErr != nil {
		return validateErr
	}

	if !e.supports(t.Kind) {
		return fmt.Errorf("%w: %q for handler %s", ErrUnsupportedKind, t.Kind, e.Name())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrExecutorStopped
	}

	if len(e.execQueue) < e.cfg.ExecutionCapacity {
		e.execQueue = append(e.execQueue, t)
		e.dirty = true

		return nil
	}

	if len(e.waitQueue) < e.cfg.WaitingCapacity {
		e.waitQueue = append(e.waitQueue, t)
		e.dirty = true

		return nil
	}

	return &QueueFullError{
		Handler:      e.Name(),
		ExecutionLen: len(e.execQueue),
		WaitingLen:   len(e.waitQueue),
	}
}

// Start loads persisted queues, purges expired tasks, and launches the
// processing loop. Calling Start twice is a no-op.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()

	if e.started || e.stopped {
		e.mu.Unlock()

		return
	}

	e.started = true

	if e.cfg.Retention == RetentionFixedDuration && e.deps.Store != nil {
		// The restored backlog predates anything admitted before Start, so it
		// goes to the front; admitted tasks must never be discarded.
		e.execQueue = append(e.deps.Store.LoadQueue(e.Name(), store.ExecutionQueue), e.execQueue...)
		e.waitQueue = append(e.deps.Store.LoadQueue(e.Name(), store.WaitingQueue), e.waitQueue...)
		e.clearExpiredLocked()
		e.dirty = true
	}

	e.mu.Unlock()

	go e.loop(ctx)
}

// Stop refuses further submissions, stops the loop, and drains in-flight
// tasks. Returns ctx.Err when draining outlives the context.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()

	if e.stopped {
		e.mu.Unlock()

		return nil
	}

	e.stopped = true
	wasStarted := e.started

	e.mu.Unlock()

	close(e.stopCh)

	if wasStarted {
		select {
		case <-e.loopDone:
		case <-ctx.Done():
			return fmt.Errorf("stop %s: %w", e.Name(), ctx.Err())
		}
	}

	drained := make(chan struct{})

	go func() {
		e.tasks.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain %s: %w", e.Name(), ctx.Err())
	}
}

// Stats reports the current queue lengths and in-flight count.
func (e *Executor) Stats() (execLen, waitLen, inFlight int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.execQueue), len(e.waitQueue), e.inFlight
}

// loop is the single dedicated processing loop. It never runs two
// processOnce passes concurrently.
func (e *Executor) loop(ctx context.Context) {
	defer close(e.loopDone)

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !e.hasWork() {
			e.sleep(ctx, e.cfg.IdleInterval)

			continue
		}

		err := e.processOnce(ctx)
		if err != nil {
			e.logger.Warn("processing pass failed", "error", err)
			e.sleep(ctx, e.cfg.ErrorBackoff)

			continue
		}

		e.sleep(ctx, e.cfg.YieldInterval)
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-e.stopCh:
	case <-ctx.Done():
	}
}

func (e *Executor) hasWork() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.execQueue) > 0 || len(e.waitQueue) > 0
}

// processOnce runs one serialized pass: compact terminal tasks, launch
// pending tasks up to the concurrency cap, promote waiting tasks FIFO, and
// persist when dirty.
func (e *Executor) processOnce(ctx context.Context) error {
	e.mu.Lock()

	e.compactLocked()
	launchable := e.collectLaunchableLocked()
	e.promoteLocked()

	var snapshot *queueSnapshot
	if e.dirty && e.deps.Store != nil && e.cfg.Retention == RetentionFixedDuration {
		snapshot = e.snapshotLocked()
		e.dirty = false
	} else if e.dirty {
		e.dirty = false
	}

	e.mu.Unlock()

	for _, t := range launchable {
		e.tasks.Add(1)

		go e.runTask(ctx, t)
	}

	if snapshot != nil {
		e.persist(snapshot)
	}

	return nil
}

// compactLocked removes terminal tasks from the execution queue.
func (e *Executor) compactLocked() {
	kept := e.execQueue[:0]

	for _, t := range e.execQueue {
		if t.Status.Terminal() {
			e.dirty = true

			continue
		}

		kept = append(kept, t)
	}

	e.execQueue = kept
}

// collectLaunchableLocked marks pending tasks as claimed by incrementing the
// in-flight count, up to the concurrency cap. The check-then-increment is
// atomic under mu with respect to in-flight decrements.
func (e *Executor) collectLaunchableLocked() []*task.Task {
	var launchable []*task.Task

	for _, t := range e.execQueue {
		if e.inFlight >= e.cfg.MaxConcurrency {
			break
		}

		if t.Status != task.StatusPending {
			continue
		}

		// Claim before launch so no other pass double-starts the task.
		markErr := t.MarkExecuting()
		if markErr != nil {
			continue
		}

		e.inFlight++
		launchable = append(launchable, t)
	}

	return launchable
}

// promoteLocked moves waiting tasks into the execution queue FIFO while
// capacity allows.
func (e *Executor) promoteLocked() {
	for len(e.waitQueue) > 0 && len(e.execQueue) < e.cfg.ExecutionCapacity {
		e.execQueue = append(e.execQueue, e.waitQueue[0])
		e.waitQueue = e.waitQueue[1:]
		e.dirty = true
	}
}

// clearExpiredLocked drops tasks past the retention limit from both queues.
func (e *Executor) clearExpiredLocked() {
	if e.cfg.RetentionLimit <= 0 {
		return
	}

	e.execQueue = e.dropExpiredLocked(e.execQueue)
	e.waitQueue = e.dropExpiredLocked(e.waitQueue)
}

func (e *Executor) dropExpiredLocked(queue []*task.Task) []*task.Task {
	kept := queue[:0]

	for _, t := range queue {
		if t.IsExpired(e.cfg.RetentionLimit) {
			e.dirty = true
			e.logger.Info("dropping expired task", "key", t.Key, "kind", string(t.Kind))

			continue
		}

		kept = append(kept, t)
	}

	return kept
}

type queueSnapshot struct {
	execution []task.Serialized
	waiting   []task.Serialized
}

// snapshotLocked projects both queues into their serialized form while mu is
// held, so the persist write never reads task fields concurrently with a
// terminal transition.
func (e *Executor) snapshotLocked() *queueSnapshot {
	return &queueSnapshot{
		execution: e.serializeLocked(e.execQueue),
		waiting:   e.serializeLocked(e.waitQueue),
	}
}

func (e *Executor) serializeLocked(queue []*task.Task) []task.Serialized {
	snapshot := make([]task.Serialized, 0, len(queue))

	for _, t := range queue {
		ser, err := t.Serialize()
		if err != nil {
			e.logger.Warn("skipping unserializable task", "key", t.Key, "error", err)

			continue
		}

		snapshot = append(snapshot, ser)
	}

	return snapshot
}

// persist writes both queues. Failures are logged and never abort processing.
func (e *Executor) persist(snapshot *queueSnapshot) {
	execErr := e.deps.Store.SaveSerialized(e.Name(), store.ExecutionQueue, snapshot.execution)
	if execErr != nil {
		e.logger.Warn("persist execution queue failed", "error", execErr)
	}

	waitErr := e.deps.Store.SaveSerialized(e.Name(), store.WaitingQueue, snapshot.waiting)
	if waitErr != nil {
		e.logger.Warn("persist waiting queue failed", "error", waitErr)
	}
}

// runTask executes one claimed task. The in-flight decrement is deferred so
// it happens on every exit path.
func (e *Executor) runTask(ctx context.Context, t *task.Task) {
	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.dirty = true
		e.mu.Unlock()

		e.tasks.Done()
	}()

	started := time.Now()

	spanCtx, span := e.tracer.Start(ctx, "task.execute", trace.WithAttributes(
		attribute.String("task.key", t.Key),
		attribute.String("task.kind", string(t.Kind)),
		attribute.String("task.handler", e.Name()),
	))
	defer span.End()

	var release func()
	if e.deps.Metrics != nil {
		release = e.deps.Metrics.TrackInflight(spanCtx, e.Name())
		defer release()
	}

	result, execErr := e.executeTask(spanCtx, t)

	if execErr != nil {
		e.failTask(spanCtx, t, execErr)
		span.SetStatus(codes.Error, execErr.Message)
		e.recordTask(spanCtx, t, statusErrorValue, started)

		return
	}

	e.mu.Lock()
	completeErr := t.MarkCompleted(result)
	e.mu.Unlock()

	if completeErr != nil {
		e.logger.Error("complete transition rejected", "key", t.Key, "error", completeErr)

		return
	}

	afterErr := e.handler.AfterExecute(spanCtx, t, result)
	if afterErr != nil {
		// Completion already happened; after-hooks never revert it.
		e.logger.Warn("after-execute hook failed", "key", t.Key, "error", afterErr)
	}

	e.publishTerminal(t, true, result, nil)
	e.recordTask(spanCtx, t, statusOKValue, started)
}

const (
	statusOKValue    = "ok"
	statusErrorValue = "error"
)

// executeTask runs validation and the handler hooks. The task is already
// Executing when this is called; validation failures surface as task errors.
func (e *Executor) executeTask(ctx context.Context, t *task.Task) (any, *task.Error) {
	validateErr := e.handler.Validate(t)
	if validateErr != nil {
		return nil, task.NewError(task.ErrKindInvalidInput, validateErr)
	}

	beforeErr := e.handler.BeforeExecute(ctx, t)
	if beforeErr != nil {
		return nil, task.NewError(task.ErrKindInternal, beforeErr)
	}

	result, execErr := e.execWithRecovery(ctx, t)
	if execErr != nil {
		return nil, execErr
	}

	return result, nil
}

// execWithRecovery calls the handler's Execute, mapping panics to internal
// task errors so a misbehaving handler cannot kill the process.
func (e *Executor) execWithRecovery(ctx context.Context, t *task.Task) (result any, taskErr *task.Error) {
	defer func() {
		if r := recover(); r != nil {
			taskErr = task.NewError(task.ErrKindInternal, fmt.Errorf("handler panic: %v", r))
		}
	}()

	res, err := e.handler.Execute(ctx, t)
	if err != nil {
		var asTaskErr *task.Error
		if errors.As(err, &asTaskErr) {
			return nil, asTaskErr
		}

		return nil, task.NewError(task.ErrKindExternal, err)
	}

	return res, nil
}

func (e *Executor) failTask(ctx context.Context, t *task.Task, taskErr *task.Error) {
	e.mu.Lock()
	markErr := t.MarkFailed(taskErr)
	e.mu.Unlock()

	if markErr != nil {
		e.logger.Error("fail transition rejected", "key", t.Key, "error", markErr)

		return
	}

	e.logger.InfoContext(ctx, "task failed",
		"key", t.Key, "kind", string(t.Kind), "error", taskErr.Message)

	e.publishTerminal(t, false, nil, taskErr)
}

func (e *Executor) publishTerminal(t *task.Task, success bool, result any, taskErr *task.Error) {
	if e.deps.Bus == nil {
		return
	}

	name := notify.EventTaskCompleted
	if !success {
		name = notify.EventTaskFailed
	}

	e.deps.Bus.Publish(notify.Event{
		Name: name,
		Data: TaskEvent{
			Key:     t.Key,
			Kind:    t.Kind,
			Handler: e.Name(),
			Success: success,
			Result:  result,
			Err:     taskErr,
		},
	})
}

func (e *Executor) recordTask(ctx context.Context, t *task.Task, status string, started time.Time) {
	if e.deps.Metrics == nil {
		return
	}

	e.deps.Metrics.RecordTask(ctx, e.Name(), string(t.Kind), status, time.Since(started))
}
