package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovenKiller/lithelper/internal/notify"
	"github.com/ovenKiller/lithelper/internal/scheduler"
	"github.com/ovenKiller/lithelper/internal/store"
	"github.com/ovenKiller/lithelper/internal/task"
)

// stubHandler is a configurable scheduler.Handler for executor tests.
type stubHandler struct {
	name    string
	kinds   []task.Kind
	execute func(ctx context.Context, t *task.Task) (any, error)

	mu       sync.Mutex
	running  int
	maxSeen  int
	executed []string
}

func newStubHandler(name string, kinds ...task.Kind) *stubHandler {
	if len(kinds) == 0 {
		kinds = []task.Kind{task.KindOrganizePaper}
	}

	return &stubHandler{name: name, kinds: kinds}
}

func (h *stubHandler) Name() string                                   { return h.name }
func (h *stubHandler) Kinds() []task.Kind                             { return h.kinds }
func (h *stubHandler) Validate(_ *task.Task) error                    { return nil }
func (h *stubHandler) BeforeExecute(_ context.Context, _ *task.Task) error { return nil }

func (h *stubHandler) Execute(ctx context.Context, t *task.Task) (any, error) {
	h.mu.Lock()
	h.running++

	if h.running > h.maxSeen {
		h.maxSeen = h.running
	}

	h.executed = append(h.executed, t.Key)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running--
		h.mu.Unlock()
	}()

	if h.execute != nil {
		return h.execute(ctx, t)
	}

	return "ok", nil
}

func (h *stubHandler) AfterExecute(_ context.Context, _ *task.Task, _ any) error { return nil }

func (h *stubHandler) executedKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.executed...)
}

func (h *stubHandler) maxConcurrent() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.maxSeen
}

// fastConfig keeps executor loops snappy in tests.
func fastConfig(maxConcurrency, execCap, waitCap int) scheduler.ExecutorConfig {
	return scheduler.ExecutorConfig{
		MaxConcurrency:    maxConcurrency,
		ExecutionCapacity: execCap,
		WaitingCapacity:   waitCap,
		IdleInterval:      5 * time.Millisecond,
		YieldInterval:     time.Millisecond,
		ErrorBackoff:      5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	require.Fail(t, "condition never became true")
}

func stopExecutor(t *testing.T, e *scheduler.Executor) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, e.Stop(ctx))
}

func TestExecutor_RunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize")
	exec := scheduler.NewExecutor(handler, fastConfig(2, 10, 10), scheduler.ExecutorDeps{})

	for i := range 4 {
		require.NoError(t, exec.Submit(task.New(fmt.Sprintf("k%d", i), task.KindOrganizePaper, nil)))
	}

	exec.Start(context.Background())
	defer stopExecutor(t, exec)

	waitFor(t, func() bool { return len(handler.executedKeys()) == 4 })
}

func TestExecutor_ConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	handler := newStubHandler("organize")
	handler.execute = func(_ context.Context, _ *task.Task) (any, error) {
		<-release

		return "ok", nil
	}

	exec := scheduler.NewExecutor(handler, fastConfig(2, 10, 10), scheduler.ExecutorDeps{})

	for i := range 5 {
		require.NoError(t, exec.Submit(task.New(fmt.Sprintf("k%d", i), task.KindOrganizePaper, nil)))
	}

	exec.Start(context.Background())

	// Two tasks start and block; the other three must hold back.
	waitFor(t, func() bool { return handler.maxConcurrent() == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, handler.maxConcurrent())

	close(release)

	waitFor(t, func() bool { return len(handler.executedKeys()) == 5 })
	assert.LessOrEqual(t, handler.maxConcurrent(), 2)

	stopExecutor(t, exec)
}

func TestExecutor_QueueSpillAndRejection(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize")
	exec := scheduler.NewExecutor(handler, fastConfig(1, 2, 3), scheduler.ExecutorDeps{})

	// Not started: five tasks fill both queues, the sixth is rejected.
	for i := range 5 {
		require.NoError(t, exec.Submit(task.New(fmt.Sprintf("k%d", i), task.KindOrganizePaper, nil)))
	}

	err := exec.Submit(task.New("k5", task.KindOrganizePaper, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, scheduler.ErrQueueFull)

	var full *scheduler.QueueFullError

	require.ErrorAs(t, err, &full)
	assert.Equal(t, 2, full.ExecutionLen)
	assert.Equal(t, 3, full.WaitingLen)
}

func TestExecutor_ZeroWaitingCapacityDisablesSpill(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize")
	exec := scheduler.NewExecutor(handler, fastConfig(1, 1, 0), scheduler.ExecutorDeps{})

	require.NoError(t, exec.Submit(task.New("k0", task.KindOrganizePaper, nil)))

	err := exec.Submit(task.New("k1", task.KindOrganizePaper, nil))
	assert.ErrorIs(t, err, scheduler.ErrQueueFull)
}

func TestExecutor_WaitingTasksPromoteAndRun(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize")
	exec := scheduler.NewExecutor(handler, fastConfig(1, 1, 4), scheduler.ExecutorDeps{})

	for i := range 5 {
		require.NoError(t, exec.Submit(task.New(fmt.Sprintf("k%d", i), task.KindOrganizePaper, nil)))
	}

	exec.Start(context.Background())
	defer stopExecutor(t, exec)

	// All five run eventually, in submission order.
	waitFor(t, func() bool { return len(handler.executedKeys()) == 5 })
	assert.Equal(t, []string{"k0", "k1", "k2", "k3", "k4"}, handler.executedKeys())
}

func TestExecutor_RejectsUnsupportedKind(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize", task.KindOrganizePaper)
	exec := scheduler.NewExecutor(handler, fastConfig(1, 5, 5), scheduler.ExecutorDeps{})

	err := exec.Submit(task.New("k0", task.KindMetadataExtraction, nil))

	assert.ErrorIs(t, err, scheduler.ErrUnsupportedKind)
}

func TestExecutor_RejectsInvalidTask(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize")
	exec := scheduler.NewExecutor(handler, fastConfig(1, 5, 5), scheduler.ExecutorDeps{})

	err := exec.Submit(task.New("", task.KindOrganizePaper, nil))

	assert.ErrorIs(t, err, task.ErrEmptyKey)
}

func TestExecutor_SubmitAfterStop(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize")
	exec := scheduler.NewExecutor(handler, fastConfig(1, 5, 5), scheduler.ExecutorDeps{})

	exec.Start(context.Background())
	stopExecutor(t, exec)

	err := exec.Submit(task.New("k0", task.KindOrganizePaper, nil))

	assert.ErrorIs(t, err, scheduler.ErrExecutorStopped)
}

func TestExecutor_StartTwiceIsNoop(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize")
	exec := scheduler.NewExecutor(handler, fastConfig(1, 5, 5), scheduler.ExecutorDeps{})

	exec.Start(context.Background())
	exec.Start(context.Background())

	require.NoError(t, exec.Submit(task.New("k0", task.KindOrganizePaper, nil)))
	waitFor(t, func() bool { return len(handler.executedKeys()) == 1 })

	stopExecutor(t, exec)
}

func TestExecutor_StopDrainsInflight(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	handler := newStubHandler("organize")
	handler.execute = func(_ context.Context, _ *task.Task) (any, error) {
		close(started)
		<-release

		return "ok", nil
	}

	exec := scheduler.NewExecutor(handler, fastConfig(1, 5, 5), scheduler.ExecutorDeps{})
	require.NoError(t, exec.Submit(task.New("k0", task.KindOrganizePaper, nil)))

	exec.Start(context.Background())
	<-started

	stopDone := make(chan error, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		stopDone <- exec.Stop(ctx)
	}()

	// Stop must wait for the in-flight task.
	select {
	case <-stopDone:
		require.Fail(t, "stop returned while a task was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopDone)
}

func TestExecutor_PublishesTerminalEvents(t *testing.T) {
	t.Parallel()

	bus := notify.NewBus(nil)

	var mu sync.Mutex

	var events []scheduler.TaskEvent

	record := func(ev notify.Event) {
		taskEv, ok := ev.Data.(scheduler.TaskEvent)
		if !ok {
			return
		}

		mu.Lock()
		events = append(events, taskEv)
		mu.Unlock()
	}

	t.Cleanup(bus.Subscribe(notify.EventTaskCompleted, record))
	t.Cleanup(bus.Subscribe(notify.EventTaskFailed, record))

	handler := newStubHandler("organize")
	handler.execute = func(_ context.Context, tk *task.Task) (any, error) {
		if tk.Key == "bad" {
			return nil, errors.New("external backend down")
		}

		return "ok", nil
	}

	exec := scheduler.NewExecutor(handler, fastConfig(2, 5, 5), scheduler.ExecutorDeps{Bus: bus})

	require.NoError(t, exec.Submit(task.New("good", task.KindOrganizePaper, nil)))
	require.NoError(t, exec.Submit(task.New("bad", task.KindOrganizePaper, nil)))

	exec.Start(context.Background())
	defer stopExecutor(t, exec)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(events) == 2
	})

	mu.Lock()
	defer mu.Unlock()

	byKey := map[string]scheduler.TaskEvent{}
	for _, ev := range events {
		byKey[ev.Key] = ev
	}

	assert.True(t, byKey["good"].Success)
	assert.Equal(t, "ok", byKey["good"].Result)

	assert.False(t, byKey["bad"].Success)
	require.NotNil(t, byKey["bad"].Err)
	assert.Equal(t, task.ErrKindExternal, byKey["bad"].Err.Kind)
}

func TestExecutor_PanicBecomesInternalFailure(t *testing.T) {
	t.Parallel()

	bus := notify.NewBus(nil)

	var mu sync.Mutex

	var failed []scheduler.TaskEvent

	t.Cleanup(bus.Subscribe(notify.EventTaskFailed, func(ev notify.Event) {
		taskEv, ok := ev.Data.(scheduler.TaskEvent)
		if !ok {
			return
		}

		mu.Lock()
		failed = append(failed, taskEv)
		mu.Unlock()
	}))

	handler := newStubHandler("organize")
	handler.execute = func(_ context.Context, _ *task.Task) (any, error) {
		panic("handler bug")
	}

	exec := scheduler.NewExecutor(handler, fastConfig(1, 5, 5), scheduler.ExecutorDeps{Bus: bus})
	require.NoError(t, exec.Submit(task.New("k0", task.KindOrganizePaper, nil)))

	exec.Start(context.Background())
	defer stopExecutor(t, exec)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(failed) == 1
	})

	mu.Lock()
	defer mu.Unlock()

	require.NotNil(t, failed[0].Err)
	assert.Equal(t, task.ErrKindInternal, failed[0].Err.Kind)
}

func TestExecutor_RestoresPersistedQueues(t *testing.T) {
	t.Parallel()

	kv := store.NewMemoryKV()
	qs := store.NewQueueStore(kv, store.NewJSONCodec(), nil)

	fresh := task.New("fresh", task.KindOrganizePaper, nil)
	expired := task.New("expired", task.KindOrganizePaper, nil)
	expired.CreatedAt = time.Now().Add(-2 * time.Hour)

	require.NoError(t, qs.SaveQueue("organize", store.ExecutionQueue, []*task.Task{fresh, expired}))

	handler := newStubHandler("organize")

	cfg := fastConfig(1, 5, 5)
	cfg.Retention = scheduler.RetentionFixedDuration
	cfg.RetentionLimit = time.Hour

	exec := scheduler.NewExecutor(handler, cfg, scheduler.ExecutorDeps{Store: qs})

	exec.Start(context.Background())
	defer stopExecutor(t, exec)

	waitFor(t, func() bool { return len(handler.executedKeys()) == 1 })
	time.Sleep(20 * time.Millisecond)

	// Only the fresh task survived the retention sweep.
	assert.Equal(t, []string{"fresh"}, handler.executedKeys())
}

func TestExecutor_StartKeepsTasksAdmittedBeforeRestore(t *testing.T) {
	t.Parallel()

	kv := store.NewMemoryKV()
	qs := store.NewQueueStore(kv, store.NewJSONCodec(), nil)

	require.NoError(t, qs.SaveQueue("organize", store.ExecutionQueue, []*task.Task{
		task.New("restored", task.KindOrganizePaper, nil),
	}))

	handler := newStubHandler("organize")

	cfg := fastConfig(1, 5, 5)
	cfg.Retention = scheduler.RetentionFixedDuration
	cfg.RetentionLimit = time.Hour

	exec := scheduler.NewExecutor(handler, cfg, scheduler.ExecutorDeps{Store: qs})

	// Admitted before Start; the restore must not discard it.
	require.NoError(t, exec.Submit(task.New("early", task.KindOrganizePaper, nil)))

	exec.Start(context.Background())
	defer stopExecutor(t, exec)

	waitFor(t, func() bool { return len(handler.executedKeys()) == 2 })

	// The restored backlog predates the new admission and runs first.
	assert.Equal(t, []string{"restored", "early"}, handler.executedKeys())
}

func TestExecutor_SnapshotsStayConsistentDuringCompletions(t *testing.T) {
	t.Parallel()

	kv := store.NewMemoryKV()
	qs := store.NewQueueStore(kv, store.NewJSONCodec(), nil)

	handler := newStubHandler("organize")

	cfg := fastConfig(8, 64, 64)
	cfg.Retention = scheduler.RetentionFixedDuration
	cfg.RetentionLimit = time.Hour

	exec := scheduler.NewExecutor(handler, cfg, scheduler.ExecutorDeps{Store: qs})
	exec.Start(context.Background())

	// Fast completions overlap the loop's compaction and persist passes.
	for i := range 64 {
		require.NoError(t, exec.Submit(task.New(fmt.Sprintf("k%d", i), task.KindOrganizePaper, nil)))
	}

	waitFor(t, func() bool { return len(handler.executedKeys()) == 64 })
	stopExecutor(t, exec)

	// Every persisted task decodes back into a valid task.
	for _, queue := range []store.QueueKind{store.ExecutionQueue, store.WaitingQueue} {
		for _, restored := range qs.LoadQueue("organize", queue) {
			require.NoError(t, restored.Validate())
		}
	}
}

func TestExecutor_PersistsQueuesWhileRunning(t *testing.T) {
	t.Parallel()

	kv := store.NewMemoryKV()
	qs := store.NewQueueStore(kv, store.NewJSONCodec(), nil)

	release := make(chan struct{})
	handler := newStubHandler("organize")
	handler.execute = func(_ context.Context, _ *task.Task) (any, error) {
		<-release

		return "ok", nil
	}

	cfg := fastConfig(1, 5, 5)
	cfg.Retention = scheduler.RetentionFixedDuration
	cfg.RetentionLimit = time.Hour

	exec := scheduler.NewExecutor(handler, cfg, scheduler.ExecutorDeps{Store: qs})

	require.NoError(t, exec.Submit(task.New("k0", task.KindOrganizePaper, nil)))
	require.NoError(t, exec.Submit(task.New("k1", task.KindOrganizePaper, nil)))

	exec.Start(context.Background())

	// The snapshot lands once the loop observes the dirty queues.
	waitFor(t, func() bool {
		persisted := qs.LoadQueue("organize", store.ExecutionQueue)

		return len(persisted) == 2
	})

	close(release)
	stopExecutor(t, exec)
}

func TestExecutor_Stats(t *testing.T) {
	t.Parallel()

	handler := newStubHandler("organize")
	exec := scheduler.NewExecutor(handler, fastConfig(1, 1, 5), scheduler.ExecutorDeps{})

	require.NoError(t, exec.Submit(task.New("k0", task.KindOrganizePaper, nil)))
	require.NoError(t, exec.Submit(task.New("k1", task.KindOrganizePaper, nil)))

	execLen, waitLen, inFlight := exec.Stats()

	assert.Equal(t, 1, execLen)
	assert.Equal(t, 1, waitLen)
	assert.Zero(t, inFlight)
}
