package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KV is the durable key-value backend consumed by the queue store.
type KV interface {
	// Read returns the value for key, or found=false when absent.
	Read(key string) (value []byte, found bool, err error)
	// Write stores the value under key, replacing any previous value.
	Write(key string, value []byte) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error
}

// fileExtension is the on-disk extension for KV entries.
const fileExtension = ".queue"

// dirPermissions is the mode for created KV directories.
const dirPermissions = 0o755

// filePermissions is the mode for written KV entries.
const filePermissions = 0o644

// FileKV stores each key as one file under a directory. Writes go through a
// temp file plus rename so a crash never leaves a torn snapshot.
type FileKV struct {
	dir string
}

// NewFileKV creates a file-backed KV rooted at dir, creating it if needed.
func NewFileKV(dir string) (*FileKV, error) {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}

	return &FileKV{dir: dir}, nil
}

func (kv *FileKV) path(key string) string {
	return filepath.Join(kv.dir, key+fileExtension)
}

// Read implements KV.Read.
func (kv *FileKV) Read(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(kv.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}

	return data, true, nil
}

// Write implements KV.Write with an atomic temp-file rename.
func (kv *FileKV) Write(key string, value []byte) error {
	target := kv.path(key)

	tmp, err := os.CreateTemp(kv.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}

	tmpName := tmp.Name()

	_, writeErr := tmp.Write(value)
	if writeErr != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("write %s: %w", key, writeErr)
	}

	closeErr := tmp.Close()
	if closeErr != nil {
		os.Remove(tmpName)

		return fmt.Errorf("close %s: %w", key, closeErr)
	}

	chmodErr := os.Chmod(tmpName, filePermissions)
	if chmodErr != nil {
		os.Remove(tmpName)

		return fmt.Errorf("chmod %s: %w", key, chmodErr)
	}

	renameErr := os.Rename(tmpName, target)
	if renameErr != nil {
		os.Remove(tmpName)

		return fmt.Errorf("rename %s: %w", key, renameErr)
	}

	return nil
}

// Delete implements KV.Delete.
func (kv *FileKV) Delete(key string) error {
	err := os.Remove(kv.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

// MemoryKV is an in-memory KV for tests and for the None retention strategy.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string][]byte)}
}

// Read implements KV.Read.
func (kv *MemoryKV) Read(key string) ([]byte, bool, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	value, ok := kv.entries[key]
	if !ok {
		return nil, false, nil
	}

	copied := make([]byte, len(value))
	copy(copied, value)

	return copied, true, nil
}

// Write implements KV.Write.
func (kv *MemoryKV) Write(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	copied := make([]byte, len(value))
	copy(copied, value)

	kv.entries[key] = copied

	return nil
}

// Delete implements KV.Delete.
func (kv *MemoryKV) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	delete(kv.entries, key)

	return nil
}
