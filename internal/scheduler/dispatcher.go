package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ovenKiller/lithelper/internal/task"
)

// Sentinel errors for dispatcher registration and routing.
var (
	// ErrKindNotServed indicates a registration for a kind the executor does not support.
	ErrKindNotServed = errors.New("executor does not serve kind")
	// ErrKindRegistered indicates a duplicate registration for a kind.
	ErrKindRegistered = errors.New("kind already registered")
	// ErrNoExecutor indicates a submission with no registered executor.
	ErrNoExecutor = errors.New("no executor registered for kind")
)

// Dispatcher routes tasks to executors by kind. One executor instance may be
// registered for several kinds.
type Dispatcher struct {
	mu        sync.RWMutex
	executors map[task.Kind]*Executor
	started   bool
	logger    *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		executors: make(map[task.Kind]*Executor),
		logger:    logger,
	}
}

// Register maps a kind to an executor. The executor must list the kind among
// its supported kinds, and the kind must not already be registered.
func (d *Dispatcher) Register(kind task.Kind, executor *Executor) error {
	if !slices.Contains(executor.SupportedKinds(), kind) {
		return fmt.Errorf("%w: %q not in %s", ErrKindNotServed, kind, executor.Name())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.executors[kind]; exists {
		return fmt.Errorf("%w: %q", ErrKindRegistered, kind)
	}

	d.executors[kind] = executor

	return nil
}

// Submit routes the task to its kind's executor.
func (d *Dispatcher) Submit(t *task.Task) error {
	validateErr := t.Validate()
	if validateErr != nil {
		return validateErr
	}

	d.mu.RLock()
	executor, ok := d.executors[t.Kind]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNoExecutor, t.Kind)
	}

	return executor.Submit(t)
}

// Start launches every registered executor. Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()

	if d.started {
		d.mu.Unlock()

		return
	}

	d.started = true
	executors := d.uniqueExecutorsLocked()

	d.mu.Unlock()

	for _, executor := range executors {
		executor.Start(ctx)
	}

	d.logger.Info("dispatcher started", "executors", len(executors))
}

// Stop drains every registered executor. The first error is returned after
// all executors have been asked to stop.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	executors := d.uniqueExecutorsLocked()
	d.mu.Unlock()

	var firstErr error

	for _, executor := range executors {
		stopErr := executor.Stop(ctx)
		if stopErr != nil && firstErr == nil {
			firstErr = stopErr
		}
	}

	return firstErr
}

// uniqueExecutorsLocked deduplicates executors registered under several kinds.
func (d *Dispatcher) uniqueExecutorsLocked() []*Executor {
	var unique []*Executor

	for _, executor := range d.executors {
		if !slices.Contains(unique, executor) {
			unique = append(unique, executor)
		}
	}

	return unique
}
