package batch

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovenKiller/lithelper/internal/organize"
	"github.com/ovenKiller/lithelper/pkg/paper"
)

func csvBatch(opts organize.Options, items ...*PaperItem) *Batch {
	return &Batch{ID: "b1", Options: opts, Papers: items}
}

func parseCSV(t *testing.T, data []byte) [][]string {
	t.Helper()

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)

	return rows
}

func TestCSVFilename(t *testing.T) {
	t.Parallel()

	completed := time.Date(2026, 8, 25, 13, 37, 0, 0, time.UTC)

	assert.Equal(t, "batch_b1_2026-08-25.csv", CSVFilename("b1", completed))
}

func TestRenderCSV_BaseColumns(t *testing.T) {
	t.Parallel()

	b := csvBatch(organize.Options{}, &PaperItem{
		Paper: paper.Paper{
			Title:          "A Study of Queues",
			Authors:        "Ada Lovelace",
			Abstract:       "We study queues.",
			AllVersionsURL: "https://example.org/v",
			PDFURL:         "https://example.org/p.pdf",
		},
	})

	data, err := RenderCSV(b)
	require.NoError(t, err)

	rows := parseCSV(t, data)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"Title", "Authors", "Original Abstract", "All Versions URL", "PDF URL"}, rows[0])
	assert.Equal(t, []string{
		"A Study of Queues", "Ada Lovelace", "We study queues.",
		"https://example.org/v", "https://example.org/p.pdf",
	}, rows[1])
}

func TestRenderCSV_OptionalColumns(t *testing.T) {
	t.Parallel()

	opts := organize.Options{
		Translation:    organize.TranslationOptions{Enabled: true, TargetLanguage: "Chinese"},
		Classification: organize.ClassificationOptions{Enabled: true, SelectedStandard: "ACM"},
	}

	b := csvBatch(opts, &PaperItem{
		Paper: paper.Paper{Title: "T", Authors: "A", Abstract: "orig"},
		Processed: &organize.ProcessedData{
			OriginalAbstract:   "orig",
			TranslatedAbstract: "translated",
			Classification:     "Information Systems (ACM)",
		},
	})

	data, err := RenderCSV(b)
	require.NoError(t, err)

	rows := parseCSV(t, data)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{
		"Title", "Authors", "Original Abstract", "Translated Abstract",
		"All Versions URL", "PDF URL", "Category",
	}, rows[0])
	assert.Equal(t, "translated", rows[1][3])
	assert.Equal(t, "Information Systems (ACM)", rows[1][6])
}

func TestRenderCSV_MissingValuesRenderEmpty(t *testing.T) {
	t.Parallel()

	opts := organize.Options{
		Translation: organize.TranslationOptions{Enabled: true, TargetLanguage: "Chinese"},
	}

	// A failed paper with no processed data still gets a row.
	b := csvBatch(opts, &PaperItem{
		Paper:  paper.Paper{Title: "T", Abstract: "orig"},
		Status: ItemFailed,
	})

	data, err := RenderCSV(b)
	require.NoError(t, err)

	rows := parseCSV(t, data)
	require.Len(t, rows, 2)

	assert.Equal(t, "orig", rows[1][2])
	assert.Empty(t, rows[1][3])
}

func TestRenderCSV_QuotesSpecialCharacters(t *testing.T) {
	t.Parallel()

	b := csvBatch(organize.Options{}, &PaperItem{
		Paper: paper.Paper{
			Title:    `Queues, "Stacks" and Lists`,
			Abstract: "line one\nline two",
		},
	})

	data, err := RenderCSV(b)
	require.NoError(t, err)

	// The encoded form must survive an RFC-4180 parse.
	rows := parseCSV(t, data)
	require.Len(t, rows, 2)
	assert.Equal(t, `Queues, "Stacks" and Lists`, rows[1][0])
	assert.Equal(t, "line one\nline two", rows[1][2])
}

func TestTerminalStatus(t *testing.T) {
	t.Parallel()

	allDone := csvBatch(organize.Options{},
		&PaperItem{Status: ItemCompleted},
		&PaperItem{Status: ItemCompleted},
	)
	allDone.recomputeProgress()

	status, reached := allDone.terminalStatus()
	assert.True(t, reached)
	assert.Equal(t, StatusCompleted, status)

	mixed := csvBatch(organize.Options{},
		&PaperItem{Status: ItemCompleted},
		&PaperItem{Status: ItemFailed},
	)
	mixed.recomputeProgress()

	status, reached = mixed.terminalStatus()
	assert.True(t, reached)
	assert.Equal(t, StatusFailed, status)

	pending := csvBatch(organize.Options{},
		&PaperItem{Status: ItemCompleted},
		&PaperItem{Status: ItemOrganizing},
	)
	pending.recomputeProgress()

	_, reached = pending.terminalStatus()
	assert.False(t, reached)
}

func TestRecomputeProgress_SumsToTotal(t *testing.T) {
	t.Parallel()

	b := csvBatch(organize.Options{},
		&PaperItem{Status: ItemWaitingMetadata},
		&PaperItem{Status: ItemMetadataReady},
		&PaperItem{Status: ItemOrganizing},
		&PaperItem{Status: ItemCompleted},
		&PaperItem{Status: ItemFailed},
	)
	b.recomputeProgress()

	p := b.Progress
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, p.Total, p.Waiting+p.Ready+p.Organizing+p.Done+p.Failed)
	assert.Equal(t, 1, p.Waiting)
	assert.Equal(t, 1, p.Done)
	assert.Equal(t, 1, p.Failed)
}
