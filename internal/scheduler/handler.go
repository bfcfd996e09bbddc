// Package scheduler implements the generic task scheduler: one bounded
// dual-queue executor per handler and a dispatcher that routes tasks to
// executors by kind.
package scheduler

import (
	"context"

	"github.com/ovenKiller/lithelper/internal/task"
)

// Handler implements the per-kind task logic run by an executor.
type Handler interface {
	// Name is the executor namespace, used for persistence keys and metrics.
	Name() string

	// Kinds lists the task kinds this handler accepts.
	Kinds() []task.Kind

	// Validate performs handler-specific validation before execution.
	// Returning an error marks the task Failed without executing it.
	Validate(t *task.Task) error

	// BeforeExecute runs before Execute. An error fails the task.
	BeforeExecute(ctx context.Context, t *task.Task) error

	// Execute performs the task and returns its result. May block on I/O.
	Execute(ctx context.Context, t *task.Task) (any, error)

	// AfterExecute runs after a successful Execute. Errors are logged and do
	// not revert the completed transition.
	AfterExecute(ctx context.Context, t *task.Task, result any) error
}

// TaskEvent is the payload of task.completed and task.failed notifications.
type TaskEvent struct {
	Key     string
	Kind    task.Kind
	Handler string
	Success bool
	Result  any
	Err     *task.Error
}
