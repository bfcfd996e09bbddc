// Package task defines the unit of work handled by the scheduler: a keyed,
// kinded task with a strict Pending → Executing → {Completed, Failed}
// lifecycle and a JSON-shaped serialized projection for durable queues.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status int

// Task lifecycle states. Transitions form a strict DAG:
// Pending → Executing → {Completed, Failed}.
const (
	StatusPending Status = iota
	StatusExecuting
	StatusCompleted
	StatusFailed
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is Completed or Failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind discriminates task payloads and routes tasks to executors.
type Kind string

// Known task kinds.
const (
	// KindOrganizePaper runs the per-paper organize pipeline.
	KindOrganizePaper Kind = "organize_paper"
	// KindMetadataExtraction enriches one paper's metadata record.
	KindMetadataExtraction Kind = "paper_metadata_extraction"
	// KindElementCrawler is reserved for the page element crawler.
	KindElementCrawler Kind = "paper_element_crawler"
)

// KnownKind reports whether k belongs to the closed set of task kinds.
func KnownKind(k Kind) bool {
	switch k {
	case KindOrganizePaper, KindMetadataExtraction, KindElementCrawler:
		return true
	default:
		return false
	}
}

// Sentinel errors for task validation and transitions.
var (
	// ErrEmptyKey indicates a task submitted without a key.
	ErrEmptyKey = errors.New("task key is required")
	// ErrUnknownKind indicates a kind outside the known set.
	ErrUnknownKind = errors.New("unknown task kind")
	// ErrIllegalTransition indicates a status change outside the lifecycle DAG.
	ErrIllegalTransition = errors.New("illegal task status transition")
	// ErrNilTask indicates a nil task where one is required.
	ErrNilTask = errors.New("task is nil")
)

// Task is one unit of work. The key is immutable; status changes only under
// the owning executor.
type Task struct {
	Key       string
	Kind      Kind
	Params    any
	Status    Status
	Result    any
	Err       *Error
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a Pending task at the current time.
func New(key string, kind Kind, params any) *Task {
	now := time.Now()

	return &Task{
		Key:       key,
		Kind:      kind,
		Params:    params,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the task identity invariants.
func (t *Task) Validate() error {
	if t == nil {
		return ErrNilTask
	}

	if t.Key == "" {
		return ErrEmptyKey
	}

	if !KnownKind(t.Kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}

	return nil
}

// MarkExecuting transitions Pending → Executing.
func (t *Task) MarkExecuting() error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: %s → executing", ErrIllegalTransition, t.Status)
	}

	t.Status = StatusExecuting
	t.UpdatedAt = time.Now()

	return nil
}

// MarkCompleted transitions Executing → Completed and records the result.
func (t *Task) MarkCompleted(result any) error {
	if t.Status != StatusExecuting {
		return fmt.Errorf("%w: %s → completed", ErrIllegalTransition, t.Status)
	}

	t.Status = StatusCompleted
	t.Result = result
	t.UpdatedAt = time.Now()

	return nil
}

// MarkFailed transitions Pending or Executing → Failed and records the error.
// Pending is allowed so validation failures reach a terminal state.
func (t *Task) MarkFailed(taskErr *Error) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s → failed", ErrIllegalTransition, t.Status)
	}

	t.Status = StatusFailed
	t.Err = taskErr
	t.UpdatedAt = time.Now()

	return nil
}

// IsExpired reports whether the task is older than limit.
func (t *Task) IsExpired(limit time.Duration) bool {
	return time.Since(t.CreatedAt) > limit
}

// Serialized is the JSON projection of a task for durable queues. Params and
// Result are carried as raw JSON so queues stay schema-agnostic per kind.
type Serialized struct {
	Key       string          `json:"key"`
	Kind      Kind            `json:"kind"`
	Params    json.RawMessage `json:"params,omitempty"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Err       *Error          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Serialize produces the JSON projection of the task.
func (t *Task) Serialize() (Serialized, error) {
	ser := Serialized{
		Key:       t.Key,
		Kind:      t.Kind,
		Status:    t.Status,
		Err:       t.Err,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}

	if t.Params != nil {
		raw, err := json.Marshal(t.Params)
		if err != nil {
			return Serialized{}, fmt.Errorf("marshal params: %w", err)
		}

		ser.Params = raw
	}

	if t.Result != nil {
		raw, err := json.Marshal(t.Result)
		if err != nil {
			return Serialized{}, fmt.Errorf("marshal result: %w", err)
		}

		ser.Result = raw
	}

	return ser, nil
}

// FromSerialized reconstructs a task from its JSON projection. Params and
// Result remain raw JSON; handlers decode them with [DecodeParams].
func FromSerialized(ser Serialized) (*Task, error) {
	restored := &Task{
		Key:       ser.Key,
		Kind:      ser.Kind,
		Status:    ser.Status,
		Err:       ser.Err,
		CreatedAt: ser.CreatedAt,
		UpdatedAt: ser.UpdatedAt,
	}

	if len(ser.Params) > 0 {
		restored.Params = ser.Params
	}

	if len(ser.Result) > 0 {
		restored.Result = ser.Result
	}

	validateErr := restored.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return restored, nil
}

// DecodeParams decodes the task params into T. It accepts both in-memory
// typed params and raw JSON restored from a durable queue.
func DecodeParams[T any](t *Task) (T, error) {
	var decoded T

	if t == nil || t.Params == nil {
		return decoded, ErrNilTask
	}

	if typed, ok := t.Params.(T); ok {
		return typed, nil
	}

	raw, ok := t.Params.(json.RawMessage)
	if !ok {
		buf, err := json.Marshal(t.Params)
		if err != nil {
			return decoded, fmt.Errorf("marshal params: %w", err)
		}

		raw = buf
	}

	err := json.Unmarshal(raw, &decoded)
	if err != nil {
		return decoded, fmt.Errorf("decode params: %w", err)
	}

	return decoded, nil
}
