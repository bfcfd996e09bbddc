package task

// ErrorKind tags a task error with its failure category.
type ErrorKind string

// Task error categories.
const (
	// ErrKindInvalidInput marks a submission that failed validation.
	ErrKindInvalidInput ErrorKind = "invalid_input"
	// ErrKindUnsupported marks a task kind with no executor.
	ErrKindUnsupported ErrorKind = "unsupported_kind"
	// ErrKindQueueFull marks an admission rejected by both queues.
	ErrKindQueueFull ErrorKind = "queue_full"
	// ErrKindTimeout marks a wait that exceeded its configured bound.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindExternal marks a downstream AI or IO failure.
	ErrKindExternal ErrorKind = "external"
	// ErrKindInternal marks an uncaught handler failure.
	ErrKindInternal ErrorKind = "internal"
	// ErrKindPersistence marks a best-effort persistence failure.
	ErrKindPersistence ErrorKind = "persistence"
)

// Error is the opaque error carrier attached to failed tasks. It survives
// serialization, unlike the Go error that produced it.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewError creates a task error from a kind and a Go error.
func NewError(kind ErrorKind, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	return &Error{Kind: kind, Message: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	return string(e.Kind) + ": " + e.Message
}
