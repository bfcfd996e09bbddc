package store

import (
	"fmt"
	"log/slog"

	"github.com/ovenKiller/lithelper/internal/task"
)

// QueueKind names one of the two queues an executor persists.
type QueueKind string

// Persisted queue kinds.
const (
	// ExecutionQueue holds tasks admitted for running.
	ExecutionQueue QueueKind = "execution"
	// WaitingQueue holds tasks spilled past the execution capacity.
	WaitingQueue QueueKind = "waiting"
)

// queueKeyFormat is the KV key convention for persisted queues.
const queueKeyFormat = "task_queue_%s_%s"

// QueueStore saves and restores executor queues through a KV backend.
// Loads are tolerant: any failure yields an empty queue and a log line, never
// an error, because the scheduler must survive total loss of persisted state.
type QueueStore struct {
	kv     KV
	codec  Codec
	logger *slog.Logger
}

// NewQueueStore creates a queue store over the given backend and codec.
// A nil codec defaults to plain JSON.
func NewQueueStore(kv KV, codec Codec, logger *slog.Logger) *QueueStore {
	if codec == nil {
		codec = NewJSONCodec()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &QueueStore{kv: kv, codec: codec, logger: logger}
}

func queueKey(namespace string, kind QueueKind) string {
	return fmt.Sprintf(queueKeyFormat, namespace, kind)
}

// SaveQueue persists the queue snapshot for (namespace, kind).
func (s *QueueStore) SaveQueue(namespace string, kind QueueKind, tasks []*task.Task) error {
	snapshot := make([]task.Serialized, 0, len(tasks))

	for _, t := range tasks {
		ser, err := t.Serialize()
		if err != nil {
			return fmt.Errorf("serialize task %s: %w", t.Key, err)
		}

		snapshot = append(snapshot, ser)
	}

	return s.SaveSerialized(namespace, kind, snapshot)
}

// SaveSerialized persists tasks already projected to their serialized form.
// Executors project under their own lock and hand the snapshot here.
func (s *QueueStore) SaveSerialized(namespace string, kind QueueKind, snapshot []task.Serialized) error {
	data, err := s.codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode queue %s/%s: %w", namespace, kind, err)
	}

	writeErr := s.kv.Write(queueKey(namespace, kind), data)
	if writeErr != nil {
		return fmt.Errorf("write queue %s/%s: %w", namespace, kind, writeErr)
	}

	return nil
}

// LoadQueue restores the queue for (namespace, kind). Missing or corrupt
// snapshots yield an empty queue; individually corrupt tasks are skipped.
func (s *QueueStore) LoadQueue(namespace string, kind QueueKind) []*task.Task {
	key := queueKey(namespace, kind)

	data, found, err := s.kv.Read(key)
	if err != nil {
		s.logger.Warn("queue load failed, starting empty",
			"namespace", namespace, "queue", string(kind), "error", err)

		return nil
	}

	if !found {
		return nil
	}

	var snapshot []task.Serialized

	decodeErr := s.codec.Unmarshal(data, &snapshot)
	if decodeErr != nil {
		s.logger.Warn("queue snapshot corrupt, starting empty",
			"namespace", namespace, "queue", string(kind), "error", decodeErr)

		return nil
	}

	tasks := make([]*task.Task, 0, len(snapshot))

	for _, ser := range snapshot {
		restored, restoreErr := task.FromSerialized(ser)
		if restoreErr != nil {
			s.logger.Warn("skipping corrupt persisted task",
				"namespace", namespace, "key", ser.Key, "error", restoreErr)

			continue
		}

		tasks = append(tasks, restored)
	}

	return tasks
}

// Clear removes the persisted snapshot for (namespace, kind).
func (s *QueueStore) Clear(namespace string, kind QueueKind) error {
	err := s.kv.Delete(queueKey(namespace, kind))
	if err != nil {
		return fmt.Errorf("clear queue %s/%s: %w", namespace, kind, err)
	}

	return nil
}
