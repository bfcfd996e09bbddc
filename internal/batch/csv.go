package batch

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// Fixed CSV column headers.
const (
	colTitle              = "Title"
	colAuthors            = "Authors"
	colOriginalAbstract   = "Original Abstract"
	colTranslatedAbstract = "Translated Abstract"
	colAllVersionsURL     = "All Versions URL"
	colPDFURL             = "PDF URL"
	colCategory           = "Category"
)

// csvFilenameFormat is batch_{batchId}_{YYYY-MM-DD}.csv.
const csvFilenameFormat = "batch_%s_%s.csv"

// csvDateLayout is the date part of the artifact filename.
const csvDateLayout = "2006-01-02"

// CSVFilename returns the artifact filename for a batch finished at the
// given time.
func CSVFilename(batchID string, completedAt time.Time) string {
	return fmt.Sprintf(csvFilenameFormat, batchID, completedAt.Format(csvDateLayout))
}

// RenderCSV renders the batch as an RFC-4180 CSV document: a header row, then
// one row per paper in submission order. The Translated Abstract and Category
// columns appear only when their stages are enabled; absent values render as
// empty cells.
func RenderCSV(b *Batch) ([]byte, error) {
	var buf bytes.Buffer

	writer := csv.NewWriter(&buf)

	withTranslation := b.Options.Translation.Enabled
	withCategory := b.Options.Classification.Enabled

	header := []string{colTitle, colAuthors, colOriginalAbstract}
	if withTranslation {
		header = append(header, colTranslatedAbstract)
	}

	header = append(header, colAllVersionsURL, colPDFURL)
	if withCategory {
		header = append(header, colCategory)
	}

	headerErr := writer.Write(header)
	if headerErr != nil {
		return nil, fmt.Errorf("write csv header: %w", headerErr)
	}

	for _, item := range b.Papers {
		row := renderRow(item, withTranslation, withCategory)

		rowErr := writer.Write(row)
		if rowErr != nil {
			return nil, fmt.Errorf("write csv row for %s: %w", item.Paper.ID, rowErr)
		}
	}

	writer.Flush()

	flushErr := writer.Error()
	if flushErr != nil {
		return nil, fmt.Errorf("flush csv: %w", flushErr)
	}

	return buf.Bytes(), nil
}

func renderRow(item *PaperItem, withTranslation, withCategory bool) []string {
	originalAbstract := item.Paper.Abstract
	translated := ""
	category := ""

	if item.Processed != nil {
		if item.Processed.OriginalAbstract != "" {
			originalAbstract = item.Processed.OriginalAbstract
		}

		translated = item.Processed.TranslatedAbstract
		category = item.Processed.Classification
	}

	row := []string{item.Paper.Title, item.Paper.Authors, originalAbstract}
	if withTranslation {
		row = append(row, translated)
	}

	row = append(row, item.Paper.AllVersionsURL, item.Paper.PDFURL)
	if withCategory {
		row = append(row, category)
	}

	return row
}
