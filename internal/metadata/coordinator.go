// Package metadata holds the per-paper metadata cache and the readiness
// protocol that gates organize tasks on enrichment completion.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ovenKiller/lithelper/pkg/paper"
)

// Default readiness polling parameters.
const (
	// DefaultPollInterval is the tick between readiness checks.
	DefaultPollInterval = 1500 * time.Millisecond
	// DefaultWaitTimeout is the overall bound on waiting for a paper set.
	DefaultWaitTimeout = 5 * time.Minute
)

// ErrWaitTimeout indicates the readiness wait exceeded its bound.
var ErrWaitTimeout = errors.New("metadata readiness wait timed out")

// TimeoutError reports how long the wait ran and which papers never became ready.
type TimeoutError struct {
	Elapsed time.Duration
	Missing []string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("waited %s, papers not ready: %s", e.Elapsed.Round(time.Millisecond), strings.Join(e.Missing, ", "))
}

// Unwrap makes the error match [ErrWaitTimeout] under errors.Is.
func (e *TimeoutError) Unwrap() error {
	return ErrWaitTimeout
}

// Coordinator is the in-memory metadata cache plus the wait-all readiness
// loop. Writes arrive only through OnPreprocessingCompleted and Store;
// readers tolerate concurrent writes through the RWMutex.
type Coordinator struct {
	mu    sync.RWMutex
	cache map[string]paper.Record

	// nudge wakes waiting loops early when a record lands, bounded by the
	// same poll interval and timeout as the plain polling contract.
	nudge chan struct{}

	pollInterval time.Duration
	logger       *slog.Logger
}

// NewCoordinator creates a coordinator with the given poll interval.
// A non-positive interval uses DefaultPollInterval.
func NewCoordinator(pollInterval time.Duration, logger *slog.Logger) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		cache:        make(map[string]paper.Record),
		nudge:        make(chan struct{}, 1),
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Lookup returns the cached record for the paper id.
func (c *Coordinator) Lookup(paperID string) (paper.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.cache[paperID]

	return rec, ok
}

// Store replaces any existing entry for the record's paper.
func (c *Coordinator) Store(rec paper.Record) {
	c.mu.Lock()
	c.cache[rec.Paper.ID] = rec
	c.mu.Unlock()
}

// IsReady reports whether an entry exists and is not flagged processing.
func (c *Coordinator) IsReady(paperID string) bool {
	rec, ok := c.Lookup(paperID)

	return ok && rec.Ready()
}

// OnPreprocessingCompleted stores the enriched record and wakes waiters.
// This is the only path that flips readiness to true.
func (c *Coordinator) OnPreprocessingCompleted(rec paper.Record) {
	rec.Processing = false
	c.Store(rec)

	select {
	case c.nudge <- struct{}{}:
	default:
	}

	c.logger.Debug("metadata ready", "paper", rec.Paper.ID)
}

// WaitAllReady blocks until every id is ready simultaneously, polling at the
// coordinator's interval. Returns the ready records in the order of ids, or a
// TimeoutError after timeout. A zero timeout allows exactly one check.
func (c *Coordinator) WaitAllReady(ctx context.Context, ids []string, timeout time.Duration) ([]paper.Record, error) {
	started := time.Now()
	deadline := started.Add(timeout)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		records, missing := c.collect(ids)
		if len(missing) == 0 {
			return records, nil
		}

		if !time.Now().Before(deadline) {
			return nil, &TimeoutError{Elapsed: time.Since(started), Missing: missing}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait all ready: %w", ctx.Err())
		case <-ticker.C:
		case <-c.nudge:
		case <-time.After(time.Until(deadline)):
		}
	}
}

// collect returns the records for ids when all are ready, and otherwise the
// ids still missing. All ids are checked on every call.
func (c *Coordinator) collect(ids []string) ([]paper.Record, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]paper.Record, 0, len(ids))

	var missing []string

	for _, id := range ids {
		rec, ok := c.cache[id]
		if !ok || !rec.Ready() {
			missing = append(missing, id)

			continue
		}

		records = append(records, rec)
	}

	if len(missing) > 0 {
		return nil, missing
	}

	return records, nil
}
