// Package organize implements the per-paper organize pipeline: storage
// directory setup, abstract translation, and classification, driven by the
// scheduler as organize_paper tasks.
package organize

import (
	"errors"
	"fmt"

	"github.com/ovenKiller/lithelper/pkg/paper"
)

// Sentinel errors for organize task payloads.
var (
	// ErrNoPapers indicates an organize task without papers.
	ErrNoPapers = errors.New("organize params need at least one paper")
	// ErrNoTargetLanguage indicates translation enabled without a language.
	ErrNoTargetLanguage = errors.New("translation requires a target language")
	// ErrNoStandard indicates classification enabled without a standard.
	ErrNoStandard = errors.New("classification requires a standard")
)

// TranslationOptions controls the abstract translation stage.
type TranslationOptions struct {
	Enabled        bool   `json:"enabled"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// ClassificationOptions controls the classification stage.
type ClassificationOptions struct {
	Enabled          bool   `json:"enabled"`
	SelectedStandard string `json:"selectedStandard,omitempty"`
}

// StorageOptions controls artifact placement.
type StorageOptions struct {
	TaskDirectory string `json:"taskDirectory,omitempty"`
}

// Options is the recognized batch and task configuration. Unknown fields are
// never consulted; absent sections disable their stage.
type Options struct {
	Translation    TranslationOptions    `json:"translation"`
	Classification ClassificationOptions `json:"classification"`
	Storage        StorageOptions        `json:"storage"`
	DownloadPDF    bool                  `json:"downloadPdf"`
}

// Validate checks the cross-field constraints of enabled stages.
func (o Options) Validate() error {
	if o.Translation.Enabled && o.Translation.TargetLanguage == "" {
		return ErrNoTargetLanguage
	}

	if o.Classification.Enabled && o.Classification.SelectedStandard == "" {
		return ErrNoStandard
	}

	return nil
}

// Params is the payload of organize_paper tasks. The batch organizer submits
// one task per paper, but the handler accepts any non-empty paper list.
type Params struct {
	Papers  []paper.Paper `json:"papers"`
	Options Options       `json:"options"`
}

// Validate implements the organize payload invariants.
func (p Params) Validate() error {
	if len(p.Papers) == 0 {
		return ErrNoPapers
	}

	for _, item := range p.Papers {
		err := item.Validate()
		if err != nil {
			return fmt.Errorf("paper %q: %w", item.ID, err)
		}
	}

	return p.Options.Validate()
}
