package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ovenKiller/lithelper/internal/batch"
	"github.com/ovenKiller/lithelper/internal/metadata"
	"github.com/ovenKiller/lithelper/internal/organize"
	"github.com/ovenKiller/lithelper/internal/task"
	"github.com/ovenKiller/lithelper/pkg/paper"
)

// ErrUnknownBatchID indicates a status request for an unknown batch.
var ErrUnknownBatchID = errors.New("unknown batch id")

// PaperInput is one paper in an organize tool call.
type PaperInput struct {
	ID             string `json:"id" jsonschema:"paper identifier"`
	Title          string `json:"title" jsonschema:"paper title"`
	Authors        string `json:"authors,omitempty" jsonschema:"comma-separated author names"`
	Abstract       string `json:"abstract,omitempty" jsonschema:"paper abstract"`
	AllVersionsURL string `json:"allVersionsUrl,omitempty" jsonschema:"all-versions landing URL"`
	PDFURL         string `json:"pdfUrl,omitempty" jsonschema:"direct PDF URL"`
}

// OrganizeInput is the payload of the lithelper_organize tool.
type OrganizeInput struct {
	Papers                 []PaperInput `json:"papers" jsonschema:"papers to organize"`
	Translate              bool         `json:"translate,omitempty" jsonschema:"translate abstracts"`
	TargetLanguage         string       `json:"targetLanguage,omitempty" jsonschema:"translation target language"`
	Classify               bool         `json:"classify,omitempty" jsonschema:"classify papers"`
	ClassificationStandard string       `json:"classificationStandard,omitempty" jsonschema:"classification standard"`
	TaskDirectory          string       `json:"taskDirectory,omitempty" jsonschema:"storage subdirectory for artifacts"`
}

// BatchStatusInput is the payload of the lithelper_batch_status tool.
type BatchStatusInput struct {
	BatchID string `json:"batchId" jsonschema:"batch identifier returned by lithelper_organize"`
}

// ToolOutput is the structured result shared by both tools.
type ToolOutput struct {
	BatchID  string          `json:"batchId,omitempty"`
	Status   string          `json:"status,omitempty"`
	Progress *ProgressOutput `json:"progress,omitempty"`
	Papers   []PaperStatus   `json:"papers,omitempty"`
	CSV      string          `json:"csvArtifact,omitempty"`
}

// ProgressOutput mirrors the batch progress counters.
type ProgressOutput struct {
	Total      int `json:"total"`
	Waiting    int `json:"waiting"`
	Ready      int `json:"ready"`
	Organizing int `json:"organizing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

// PaperStatus reports one paper's state inside a batch.
type PaperStatus struct {
	PaperID string `json:"paperId"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// handleOrganize processes lithelper_organize tool calls: it submits one
// metadata extraction task per paper and opens the batch.
func (s *Server) handleOrganize(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input OrganizeInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	papers := make([]paper.Paper, 0, len(input.Papers))

	for _, in := range input.Papers {
		papers = append(papers, paper.Paper{
			ID:             in.ID,
			Title:          in.Title,
			Authors:        in.Authors,
			Abstract:       in.Abstract,
			AllVersionsURL: in.AllVersionsURL,
			PDFURL:         in.PDFURL,
		})
	}

	opts := s.buildOptions(input)

	for _, p := range papers {
		key := fmt.Sprintf("%s_%s", task.KindMetadataExtraction, p.ID)
		extraction := task.New(key, task.KindMetadataExtraction, metadata.ExtractionParams{Paper: p})

		submitErr := s.deps.Dispatcher.Submit(extraction)
		if submitErr != nil {
			return errorResult(fmt.Errorf("submit extraction for %s: %w", p.ID, submitErr))
		}
	}

	batchID, err := s.deps.Organizer.OrganizePapers(ctx, papers, opts)
	if err != nil {
		return errorResult(err)
	}

	output := ToolOutput{BatchID: batchID, Status: batch.StatusPending.String()}

	return textResult(output), output, nil
}

func (s *Server) buildOptions(input OrganizeInput) organize.Options {
	opts := organize.Options{
		Translation: organize.TranslationOptions{
			Enabled:        input.Translate,
			TargetLanguage: input.TargetLanguage,
		},
		Classification: organize.ClassificationOptions{
			Enabled:          input.Classify,
			SelectedStandard: input.ClassificationStandard,
		},
		Storage: organize.StorageOptions{TaskDirectory: input.TaskDirectory},
	}

	if opts.Translation.Enabled && opts.Translation.TargetLanguage == "" {
		opts.Translation.TargetLanguage = s.deps.DefaultTargetLanguage
	}

	if opts.Classification.Enabled && opts.Classification.SelectedStandard == "" {
		opts.Classification.SelectedStandard = s.deps.DefaultStandard
	}

	return opts
}

// handleBatchStatus processes lithelper_batch_status tool calls.
func (s *Server) handleBatchStatus(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input BatchStatusInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	snapshot, ok := s.deps.Organizer.Snapshot(input.BatchID)
	if !ok {
		return errorResult(fmt.Errorf("%w: %s", ErrUnknownBatchID, input.BatchID))
	}

	output := ToolOutput{
		BatchID: snapshot.ID,
		Status:  snapshot.Status.String(),
		CSV:     snapshot.CSVArtifact,
		Progress: &ProgressOutput{
			Total:      snapshot.Progress.Total,
			Waiting:    snapshot.Progress.Waiting,
			Ready:      snapshot.Progress.Ready,
			Organizing: snapshot.Progress.Organizing,
			Done:       snapshot.Progress.Done,
			Failed:     snapshot.Progress.Failed,
		},
	}

	for _, item := range snapshot.Papers {
		status := PaperStatus{
			PaperID: item.Paper.ID,
			Title:   item.Paper.Title,
			Status:  item.Status.String(),
		}

		if item.Err != nil {
			status.Error = item.Err.Message
		}

		output.Papers = append(output.Papers, status)
	}

	return textResult(output), output, nil
}

// textResult renders the structured output as a JSON text content block.
func textResult(output ToolOutput) *mcpsdk.CallToolResult {
	raw, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}
}
