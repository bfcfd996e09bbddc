package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ovenKiller/lithelper/internal/metadata"
	"github.com/ovenKiller/lithelper/internal/notify"
	"github.com/ovenKiller/lithelper/internal/organize"
	"github.com/ovenKiller/lithelper/internal/scheduler"
	"github.com/ovenKiller/lithelper/internal/task"
	"github.com/ovenKiller/lithelper/pkg/paper"
)

// Sentinel errors for batch requests.
var (
	// ErrNoInputPapers indicates an organize request without papers.
	ErrNoInputPapers = errors.New("at least one paper is required")
	// ErrUnknownBatch indicates a lookup for a batch id that does not exist.
	ErrUnknownBatch = errors.New("unknown batch")
)

// organizeKeyFormat is the task key convention for per-paper organize tasks.
const organizeKeyFormat = "organize_paper_%s_%d"

// Submitter routes tasks to their executors. Satisfied by scheduler.Dispatcher.
type Submitter interface {
	Submit(t *task.Task) error
}

// Completion is the per-task outcome delivered to OnOrganizeTaskCompleted.
type Completion struct {
	Success   bool
	Err       *task.Error
	Processed *organize.ProcessedData
	Actions   []organize.ActionResult
	Storage   organize.DirResult
}

// taskRef locates the paper a task key was issued for.
type taskRef struct {
	batchID string
	paperID string
}

// OrganizerDeps carries the organizer's collaborators.
type OrganizerDeps struct {
	Submitter   Submitter
	Coordinator *metadata.Coordinator
	Bus         *notify.Bus
	Storage     organize.Storage
	WaitTimeout time.Duration
	Logger      *slog.Logger
}

// Organizer creates batches, waits for metadata readiness, fans out organize
// tasks, aggregates outcomes, and finalizes. It never holds its lock across a
// poll, a submit, or an artifact write.
type Organizer struct {
	deps   OrganizerDeps
	logger *slog.Logger

	mu      sync.Mutex
	batches map[string]*Batch
	done    map[string]chan struct{}
	index   map[string]taskRef

	unsubscribe []func()
}

// NewOrganizer creates a batch organizer and subscribes it to the task
// terminal notifications on the bus.
func NewOrganizer(deps OrganizerDeps) *Organizer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.WaitTimeout <= 0 {
		deps.WaitTimeout = metadata.DefaultWaitTimeout
	}

	o := &Organizer{
		deps:    deps,
		logger:  logger,
		batches: make(map[string]*Batch),
		done:    make(map[string]chan struct{}),
		index:   make(map[string]taskRef),
	}

	if deps.Bus != nil {
		o.unsubscribe = append(o.unsubscribe,
			deps.Bus.Subscribe(notify.EventTaskCompleted, o.onTaskEvent),
			deps.Bus.Subscribe(notify.EventTaskFailed, o.onTaskEvent),
		)
	}

	return o
}

// Close detaches the organizer from the bus.
func (o *Organizer) Close() {
	for _, cancel := range o.unsubscribe {
		cancel()
	}
}

// OrganizePapers validates the request, creates a batch with every item
// waiting for metadata, and spawns the coordinator. Returns the batch id
// immediately.
func (o *Organizer) OrganizePapers(ctx context.Context, papers []paper.Paper, opts organize.Options) (string, error) {
	if len(papers) == 0 {
		return "", ErrNoInputPapers
	}

	for _, p := range papers {
		err := p.Validate()
		if err != nil {
			return "", fmt.Errorf("paper %q: %w", p.ID, err)
		}
	}

	optsErr := opts.Validate()
	if optsErr != nil {
		return "", optsErr
	}

	b := &Batch{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Options:   opts,
		Papers:    make([]*PaperItem, 0, len(papers)),
		CreatedAt: time.Now(),
	}

	for _, p := range papers {
		b.Papers = append(b.Papers, &PaperItem{Paper: p, Status: ItemWaitingMetadata})
	}

	b.recomputeProgress()

	o.mu.Lock()
	o.batches[b.ID] = b
	o.done[b.ID] = make(chan struct{})
	o.mu.Unlock()

	go o.run(ctx, b.ID)

	return b.ID, nil
}

// Snapshot returns a copy of the batch state for inspection.
func (o *Organizer) Snapshot(batchID string) (Batch, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.batches[batchID]
	if !ok {
		return Batch{}, false
	}

	copied := *b
	copied.Papers = make([]*PaperItem, len(b.Papers))

	for i, item := range b.Papers {
		itemCopy := *item
		copied.Papers[i] = &itemCopy
	}

	return copied, true
}

// Wait blocks until the batch reaches a terminal state or the context ends.
func (o *Organizer) Wait(ctx context.Context, batchID string) error {
	o.mu.Lock()
	ch, ok := o.done[batchID]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBatch, batchID)
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait batch %s: %w", batchID, ctx.Err())
	}
}

// run is the per-batch coordinator: readiness wait, fan-out, finalize.
func (o *Organizer) run(ctx context.Context, batchID string) {
	ids, opts, count := o.transitionRunning(batchID)
	if count == 0 {
		return
	}

	o.publish(notify.EventBatchStarted, StartedEvent{
		BatchID:       batchID,
		PaperCount:    count,
		TaskDirectory: opts.Storage.TaskDirectory,
	})

	records, waitErr := o.deps.Coordinator.WaitAllReady(ctx, ids, o.deps.WaitTimeout)
	if waitErr != nil {
		o.logger.Warn("metadata readiness failed", "batch", batchID, "error", waitErr)
		o.failWaiting(batchID, task.NewError(task.ErrKindTimeout, waitErr))
		o.finalizeIfTerminal(batchID)

		return
	}

	o.markReady(batchID, records)

	var fanout sync.WaitGroup

	for _, id := range ids {
		fanout.Add(1)

		go func(paperID string) {
			defer fanout.Done()
			o.submitOne(batchID, paperID, opts)
		}(id)
	}

	fanout.Wait()
	o.finalizeIfTerminal(batchID)
}

// transitionRunning marks the batch Running and returns the paper ids and
// options captured under the lock.
func (o *Organizer) transitionRunning(batchID string) ([]string, organize.Options, int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.batches[batchID]
	if !ok {
		return nil, organize.Options{}, 0
	}

	b.Status = StatusRunning

	ids := make([]string, 0, len(b.Papers))
	for _, item := range b.Papers {
		ids = append(ids, item.Paper.ID)
	}

	return ids, b.Options, len(ids)
}

// failWaiting fails every item still waiting for metadata.
func (o *Organizer) failWaiting(batchID string, taskErr *task.Error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.batches[batchID]
	if !ok {
		return
	}

	for _, item := range b.Papers {
		if item.Status == ItemWaitingMetadata {
			item.Status = ItemFailed
			item.Err = taskErr
		}
	}

	b.recomputeProgress()
}

// markReady overlays the ready records onto their items.
func (o *Organizer) markReady(batchID string, records []paper.Record) {
	byID := make(map[string]paper.Record, len(records))
	for _, rec := range records {
		byID[rec.Paper.ID] = rec
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.batches[batchID]
	if !ok {
		return
	}

	for _, item := range b.Papers {
		rec, found := byID[item.Paper.ID]
		if !found {
			continue
		}

		item.Paper = paper.Merge(item.Paper, rec)
		item.Status = ItemMetadataReady
	}

	b.recomputeProgress()
}

// submitOne builds and submits the organize task for one paper. The task is
// indexed before submission so a completion arriving immediately still finds
// its paper.
func (o *Organizer) submitOne(batchID, paperID string, opts organize.Options) {
	o.mu.Lock()

	b, ok := o.batches[batchID]
	if !ok {
		o.mu.Unlock()

		return
	}

	item := findItem(b, paperID)
	if item == nil || item.Status != ItemMetadataReady {
		o.mu.Unlock()

		return
	}

	key := fmt.Sprintf(organizeKeyFormat, paperID, time.Now().UnixMilli())
	params := organize.Params{Papers: []paper.Paper{item.Paper}, Options: opts}
	o.index[key] = taskRef{batchID: batchID, paperID: paperID}

	o.mu.Unlock()

	submitErr := o.deps.Submitter.Submit(task.New(key, task.KindOrganizePaper, params))

	o.mu.Lock()
	defer o.mu.Unlock()

	if submitErr != nil {
		delete(o.index, key)
		item.Status = ItemFailed
		item.Err = task.NewError(task.ErrKindQueueFull, submitErr)
		b.recomputeProgress()

		o.logger.Warn("organize submit failed", "batch", batchID, "paper", paperID, "error", submitErr)

		return
	}

	// The completion may have landed during Submit; never regress a
	// terminal item.
	if !item.Status.Terminal() {
		item.Status = ItemOrganizing
	}

	item.OrganizeTaskKey = key
	b.recomputeProgress()
}

// onTaskEvent adapts bus task notifications into completion intakes.
func (o *Organizer) onTaskEvent(ev notify.Event) {
	taskEv, ok := ev.Data.(scheduler.TaskEvent)
	if !ok || taskEv.Kind != task.KindOrganizePaper {
		return
	}

	comp := Completion{Success: taskEv.Success, Err: taskEv.Err}

	if result, isResult := taskEv.Result.(*organize.Result); isResult && len(result.Papers) > 0 {
		outcome := result.Papers[0]
		comp.Processed = &outcome.Processed
		comp.Actions = outcome.Actions
		comp.Storage = outcome.Storage
	}

	o.OnOrganizeTaskCompleted(taskEv.Key, comp)
}

// OnOrganizeTaskCompleted applies one organize outcome to its paper. Repeated
// calls for the same key are no-ops: the index entry is consumed on first use
// and terminal items never regress.
func (o *Organizer) OnOrganizeTaskCompleted(taskKey string, comp Completion) {
	o.mu.Lock()

	ref, ok := o.index[taskKey]
	if !ok {
		o.mu.Unlock()

		return
	}

	delete(o.index, taskKey)

	b, found := o.batches[ref.batchID]
	if !found || b.Status.Terminal() {
		o.mu.Unlock()

		return
	}

	item := findItem(b, ref.paperID)
	if item == nil || item.Status.Terminal() {
		o.mu.Unlock()

		return
	}

	if comp.Success {
		item.Status = ItemCompleted
		item.Processed = comp.Processed
		item.Actions = comp.Actions
		item.Storage = comp.Storage
	} else {
		item.Status = ItemFailed
		item.Err = comp.Err
	}

	b.recomputeProgress()

	o.mu.Unlock()

	o.finalizeIfTerminal(ref.batchID)
}

// finalizeIfTerminal closes the batch once all items are terminal: derive the
// terminal status, write the CSV artifact for completed batches, and emit the
// completion event. The artifact write happens outside the lock.
func (o *Organizer) finalizeIfTerminal(batchID string) {
	o.mu.Lock()

	b, ok := o.batches[batchID]
	if !ok || b.Status.Terminal() {
		o.mu.Unlock()

		return
	}

	terminal, reached := b.terminalStatus()
	if !reached {
		o.mu.Unlock()

		return
	}

	b.Status = terminal
	b.CompletedAt = time.Now()
	snapshot := *b
	snapshot.Papers = append([]*PaperItem(nil), b.Papers...)

	o.mu.Unlock()

	artifact := ""
	if terminal == StatusCompleted && b.Options.Storage.TaskDirectory != "" && o.deps.Storage != nil {
		artifact = o.writeArtifact(&snapshot)

		o.mu.Lock()
		b.CSVArtifact = artifact
		o.mu.Unlock()
	}

	o.publish(notify.EventBatchCompleted, CompletedEvent{
		BatchID:       batchID,
		TaskDirectory: b.Options.Storage.TaskDirectory,
		TotalPapers:   snapshot.Progress.Total,
		SuccessCount:  snapshot.Progress.Done,
		FailedCount:   snapshot.Progress.Failed,
		CSVArtifact:   artifact,
		CompletedAt:   snapshot.CompletedAt,
	})

	o.logger.Info("batch finished",
		"batch", batchID,
		"status", terminal.String(),
		"succeeded", snapshot.Progress.Done,
		"failed", snapshot.Progress.Failed)

	o.mu.Lock()
	ch, hasCh := o.done[batchID]
	o.mu.Unlock()

	if hasCh {
		close(ch)
	}
}

// writeArtifact renders and saves the batch CSV, returning the saved path.
func (o *Organizer) writeArtifact(b *Batch) string {
	data, err := RenderCSV(b)
	if err != nil {
		o.logger.Warn("csv render failed", "batch", b.ID, "error", err)

		return ""
	}

	filename := CSVFilename(b.ID, b.CompletedAt)

	saved, saveErr := o.deps.Storage.SaveCSVFile(data, filename, b.Options.Storage.TaskDirectory)
	if saveErr != nil {
		o.logger.Warn("csv save failed", "batch", b.ID, "error", saveErr)

		return ""
	}

	return saved.FullPath
}

func (o *Organizer) publish(name notify.EventName, data any) {
	if o.deps.Bus == nil {
		return
	}

	o.deps.Bus.Publish(notify.Event{Name: name, Data: data})
}

func findItem(b *Batch, paperID string) *PaperItem {
	for _, item := range b.Papers {
		if item.Paper.ID == paperID {
			return item
		}
	}

	return nil
}
