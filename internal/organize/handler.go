package organize

import (
	"context"
	"log/slog"

	"github.com/ovenKiller/lithelper/internal/task"
	"github.com/ovenKiller/lithelper/pkg/paper"
)

// handlerName is the organize executor namespace.
const handlerName = "organize"

// Stage action names recorded on per-paper outcomes.
const (
	actionStorage        = "storage"
	actionTranslation    = "translation"
	actionClassification = "classification"
)

// ProcessedData is the per-paper output of the pipeline, carried into the CSV.
type ProcessedData struct {
	OriginalAbstract       string `json:"originalAbstract,omitempty"`
	TranslatedAbstract     string `json:"translatedAbstract,omitempty"`
	TargetLanguage         string `json:"targetLanguage,omitempty"`
	Classification         string `json:"classification,omitempty"`
	ClassificationStandard string `json:"classificationStandard,omitempty"`
}

// ActionResult records the outcome of one pipeline stage.
type ActionResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PaperOutcome is the result of organizing one paper.
type PaperOutcome struct {
	PaperID   string         `json:"paperId"`
	Processed ProcessedData  `json:"processedData"`
	Actions   []ActionResult `json:"actions"`
	Storage   DirResult      `json:"storage,omitempty"`
}

// Result is the organize task result. Success is true whenever the pipeline
// ran without a fatal error; individual stage failures live in Actions.
type Result struct {
	Success bool           `json:"success"`
	Papers  []PaperOutcome `json:"papers"`
}

// Handler runs organize_paper tasks. Stages are independent: a failed stage
// is recorded as a failed action and the remaining stages still run.
type Handler struct {
	ai      AIClient
	storage Storage
	logger  *slog.Logger
}

// NewHandler creates the organize handler with its collaborators.
// A nil storage disables the storage stage.
func NewHandler(ai AIClient, storage Storage, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{ai: ai, storage: storage, logger: logger}
}

// Name implements scheduler.Handler.
func (h *Handler) Name() string {
	return handlerName
}

// Kinds implements scheduler.Handler.
func (h *Handler) Kinds() []task.Kind {
	return []task.Kind{task.KindOrganizePaper}
}

// Validate decodes and validates the organize payload.
func (h *Handler) Validate(t *task.Task) error {
	params, err := task.DecodeParams[Params](t)
	if err != nil {
		return err
	}

	return params.Validate()
}

// BeforeExecute implements scheduler.Handler as a no-op.
func (h *Handler) BeforeExecute(_ context.Context, _ *task.Task) error {
	return nil
}

// Execute runs the pipeline for each paper in the payload.
func (h *Handler) Execute(ctx context.Context, t *task.Task) (any, error) {
	params, err := task.DecodeParams[Params](t)
	if err != nil {
		return nil, err
	}

	result := &Result{Success: true, Papers: make([]PaperOutcome, 0, len(params.Papers))}

	for _, p := range params.Papers {
		result.Papers = append(result.Papers, h.organizeOne(ctx, p, params.Options))
	}

	return result, nil
}

// AfterExecute implements scheduler.Handler as a no-op; completion reaches
// the batch organizer through the task terminal notifications.
func (h *Handler) AfterExecute(_ context.Context, _ *task.Task, _ any) error {
	return nil
}

func (h *Handler) organizeOne(ctx context.Context, p paper.Paper, opts Options) PaperOutcome {
	outcome := PaperOutcome{
		PaperID: p.ID,
		Processed: ProcessedData{
			OriginalAbstract: p.Abstract,
		},
	}

	if opts.Storage.TaskDirectory != "" && h.storage != nil {
		h.runStorage(&outcome, opts)
	}

	if opts.Translation.Enabled {
		h.runTranslation(ctx, &outcome, p, opts)
	}

	if opts.Classification.Enabled {
		h.runClassification(ctx, &outcome, p, opts)
	}

	return outcome
}

func (h *Handler) runStorage(outcome *PaperOutcome, opts Options) {
	dir, err := h.storage.CreateSubDirectory(opts.Storage.TaskDirectory)
	if err != nil {
		h.logger.Warn("storage stage failed", "paper", outcome.PaperID, "error", err)
		outcome.Actions = append(outcome.Actions, ActionResult{Action: actionStorage, Error: err.Error()})

		return
	}

	outcome.Storage = dir
	outcome.Actions = append(outcome.Actions, ActionResult{Action: actionStorage, Success: true})
}

func (h *Handler) runTranslation(ctx context.Context, outcome *PaperOutcome, p paper.Paper, opts Options) {
	outcome.Processed.TargetLanguage = opts.Translation.TargetLanguage

	translated, err := h.ai.TranslateAbstract(ctx, p.Abstract, opts.Translation.TargetLanguage)
	if err != nil {
		h.logger.Warn("translation stage failed", "paper", p.ID, "error", err)
		outcome.Actions = append(outcome.Actions, ActionResult{Action: actionTranslation, Error: err.Error()})

		return
	}

	// An empty result keeps the original abstract for the CSV.
	outcome.Processed.TranslatedAbstract = translated
	outcome.Actions = append(outcome.Actions, ActionResult{Action: actionTranslation, Success: true})
}

func (h *Handler) runClassification(ctx context.Context, outcome *PaperOutcome, p paper.Paper, opts Options) {
	outcome.Processed.ClassificationStandard = opts.Classification.SelectedStandard

	category, err := h.ai.Classify(ctx, p, opts.Classification.SelectedStandard)
	if err != nil {
		h.logger.Warn("classification stage failed", "paper", p.ID, "error", err)
		outcome.Actions = append(outcome.Actions, ActionResult{Action: actionClassification, Error: err.Error()})

		return
	}

	outcome.Processed.Classification = category
	outcome.Actions = append(outcome.Actions, ActionResult{Action: actionClassification, Success: true})
}
