// Package paper defines the canonical paper record types shared by the
// metadata, organize, and batch components.
package paper

import (
	"errors"
	"maps"
)

// Sentinel errors for paper validation.
var (
	// ErrMissingID indicates a paper without an identifier.
	ErrMissingID = errors.New("paper id is required")
	// ErrMissingTitle indicates a paper without a title.
	ErrMissingTitle = errors.New("paper title is required")
)

// Paper is the canonical descriptor of one academic paper.
// Absent fields are empty strings; consumers must never assume presence.
type Paper struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Authors        string            `json:"authors,omitempty"`
	Abstract       string            `json:"abstract,omitempty"`
	AllVersionsURL string            `json:"allVersionsUrl,omitempty"`
	PDFURL         string            `json:"pdfUrl,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Validate checks the minimal identity fields required by the batch pipeline.
func (p Paper) Validate() error {
	if p.ID == "" {
		return ErrMissingID
	}

	if p.Title == "" {
		return ErrMissingTitle
	}

	return nil
}

// Record is a cached metadata entry for one paper. A paper is ready for
// organizing iff a Record exists and Processing is false.
type Record struct {
	Paper Paper `json:"paper"`

	// Processing marks an entry whose enrichment is still in flight.
	Processing bool `json:"processing"`
}

// Ready reports whether this record satisfies the readiness predicate.
func (r Record) Ready() bool {
	return !r.Processing
}

// Merge overlays the non-empty fields of the record's paper onto base and
// returns the result. Base fields survive when the record leaves them empty.
func Merge(base Paper, rec Record) Paper {
	merged := base

	overlay := rec.Paper
	if overlay.Title != "" {
		merged.Title = overlay.Title
	}

	if overlay.Authors != "" {
		merged.Authors = overlay.Authors
	}

	if overlay.Abstract != "" {
		merged.Abstract = overlay.Abstract
	}

	if overlay.AllVersionsURL != "" {
		merged.AllVersionsURL = overlay.AllVersionsURL
	}

	if overlay.PDFURL != "" {
		merged.PDFURL = overlay.PDFURL
	}

	if len(overlay.Extra) > 0 {
		// Copy before writing so the caller's map is never mutated.
		combined := make(map[string]string, len(merged.Extra)+len(overlay.Extra))
		maps.Copy(combined, merged.Extra)
		maps.Copy(combined, overlay.Extra)
		merged.Extra = combined
	}

	return merged
}
