// Package batch implements the batch organizer: it fans out one organize
// task per paper, tracks per-paper outcomes, and finalizes the batch with an
// optional CSV artifact and a completion notification.
package batch

import (
	"time"

	"github.com/ovenKiller/lithelper/internal/organize"
	"github.com/ovenKiller/lithelper/internal/task"
	"github.com/ovenKiller/lithelper/pkg/paper"
)

// Status is the batch lifecycle state.
type Status int

// Batch lifecycle states.
const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
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

// ItemStatus is the per-paper state inside a batch.
type ItemStatus int

// Paper item states.
const (
	ItemWaitingMetadata ItemStatus = iota
	ItemMetadataReady
	ItemOrganizing
	ItemCompleted
	ItemFailed
)

// String returns the lowercase name of the item status.
func (s ItemStatus) String() string {
	switch s {
	case ItemWaitingMetadata:
		return "waiting_metadata"
	case ItemMetadataReady:
		return "metadata_ready"
	case ItemOrganizing:
		return "organizing"
	case ItemCompleted:
		return "completed"
	case ItemFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the item status is Completed or Failed.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed
}

// PaperItem is the per-paper state tracked by a batch.
type PaperItem struct {
	Paper           paper.Paper
	Status          ItemStatus
	OrganizeTaskKey string
	Processed       *organize.ProcessedData
	Actions         []organize.ActionResult
	Storage         organize.DirResult
	Err             *task.Error
}

// Progress holds the per-state paper counters. The counters always sum to
// the total.
type Progress struct {
	Total      int
	Waiting    int
	Ready      int
	Organizing int
	Done       int
	Failed     int
}

// Batch is one user-level organize request.
type Batch struct {
	ID          string
	Status      Status
	Options     organize.Options
	Papers      []*PaperItem
	Progress    Progress
	CSVArtifact string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// recomputeProgress rebuilds the counters from the item states.
func (b *Batch) recomputeProgress() {
	p := Progress{Total: len(b.Papers)}

	for _, item := range b.Papers {
		switch item.Status {
		case ItemWaitingMetadata:
			p.Waiting++
		case ItemMetadataReady:
			p.Ready++
		case ItemOrganizing:
			p.Organizing++
		case ItemCompleted:
			p.Done++
		case ItemFailed:
			p.Failed++
		}
	}

	b.Progress = p
}

// terminalStatus derives the batch terminal state from the item states:
// Completed when every paper completed, Failed when failures exist and
// nothing is still pending, otherwise the batch stays as it is.
func (b *Batch) terminalStatus() (Status, bool) {
	if b.Progress.Done == b.Progress.Total {
		return StatusCompleted, true
	}

	nonTerminal := b.Progress.Waiting + b.Progress.Ready + b.Progress.Organizing
	if b.Progress.Failed > 0 && nonTerminal == 0 {
		return StatusFailed, true
	}

	return b.Status, false
}

// StartedEvent is the payload of batch.processing.started notifications.
type StartedEvent struct {
	BatchID       string
	PaperCount    int
	TaskDirectory string
}

// CompletedEvent is the payload of batch.processing.completed notifications.
type CompletedEvent struct {
	BatchID       string
	TaskDirectory string
	TotalPapers   int
	SuccessCount  int
	FailedCount   int
	CSVArtifact   string
	CompletedAt   time.Time
}
