package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ovenKiller/lithelper/internal/task"
	"github.com/ovenKiller/lithelper/pkg/paper"
)

// handlerName is the extractor's executor namespace.
const handlerName = "metadata_extraction"

// ErrNoEnricher indicates an extractor handler constructed without an enricher.
var ErrNoEnricher = errors.New("metadata enricher is required")

// Enricher is the external collaborator that fills in a paper's metadata.
type Enricher interface {
	Enrich(ctx context.Context, p paper.Paper) (paper.Record, error)
}

// IdentityEnricher returns the input paper unchanged. Used when papers arrive
// with their metadata already complete, e.g. from a local input file.
type IdentityEnricher struct{}

// Enrich implements Enricher by wrapping the paper as a ready record.
func (IdentityEnricher) Enrich(_ context.Context, p paper.Paper) (paper.Record, error) {
	return paper.Record{Paper: p}, nil
}

// ExtractionParams is the payload of paper_metadata_extraction tasks.
type ExtractionParams struct {
	Paper paper.Paper `json:"paper"`
}

// ExtractorHandler runs paper_metadata_extraction tasks: it marks the cache
// entry processing, calls the enricher, and hands the finished record to the
// coordinator, which is what flips the paper's readiness.
type ExtractorHandler struct {
	coordinator *Coordinator
	enricher    Enricher
	logger      *slog.Logger
}

// NewExtractorHandler creates the extraction handler.
func NewExtractorHandler(coordinator *Coordinator, enricher Enricher, logger *slog.Logger) *ExtractorHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExtractorHandler{
		coordinator: coordinator,
		enricher:    enricher,
		logger:      logger,
	}
}

// Name implements scheduler.Handler.
func (h *ExtractorHandler) Name() string {
	return handlerName
}

// Kinds implements scheduler.Handler.
func (h *ExtractorHandler) Kinds() []task.Kind {
	return []task.Kind{task.KindMetadataExtraction}
}

// Validate checks the task payload carries a well-formed paper.
func (h *ExtractorHandler) Validate(t *task.Task) error {
	if h.enricher == nil {
		return ErrNoEnricher
	}

	params, err := task.DecodeParams[ExtractionParams](t)
	if err != nil {
		return err
	}

	return params.Paper.Validate()
}

// BeforeExecute flags the cache entry as processing so readiness stays false
// while enrichment runs.
func (h *ExtractorHandler) BeforeExecute(_ context.Context, t *task.Task) error {
	params, err := task.DecodeParams[ExtractionParams](t)
	if err != nil {
		return err
	}

	h.coordinator.Store(paper.Record{Paper: params.Paper, Processing: true})

	return nil
}

// Execute enriches the paper and reports the finished record.
func (h *ExtractorHandler) Execute(ctx context.Context, t *task.Task) (any, error) {
	params, err := task.DecodeParams[ExtractionParams](t)
	if err != nil {
		return nil, err
	}

	rec, enrichErr := h.enricher.Enrich(ctx, params.Paper)
	if enrichErr != nil {
		return nil, fmt.Errorf("enrich %s: %w", params.Paper.ID, enrichErr)
	}

	return rec, nil
}

// AfterExecute stores the record via the coordinator's readiness path.
func (h *ExtractorHandler) AfterExecute(_ context.Context, t *task.Task, result any) error {
	rec, ok := result.(paper.Record)
	if !ok {
		return fmt.Errorf("unexpected extraction result for %s", t.Key)
	}

	h.coordinator.OnPreprocessingCompleted(rec)

	return nil
}
