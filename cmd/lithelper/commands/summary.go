package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ovenKiller/lithelper/internal/batch"
)

// renderSummary prints the per-paper outcomes and the batch totals.
func renderSummary(w io.Writer, b *batch.Batch, elapsed time.Duration) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Paper", "Title", "Status", "Category", "Error"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Title", WidthMax: 48},
		{Name: "Error", WidthMax: 40},
		{Name: "Status", Align: text.AlignCenter},
	})

	for _, item := range b.Papers {
		category := ""
		if item.Processed != nil {
			category = item.Processed.Classification
		}

		errMsg := ""
		if item.Err != nil {
			errMsg = item.Err.Message
		}

		tw.AppendRow(table.Row{
			item.Paper.ID,
			item.Paper.Title,
			statusCell(item.Status),
			category,
			errMsg,
		})
	}

	tw.Render()

	totals := fmt.Sprintf("%s organized, %s failed in %s",
		humanize.Comma(int64(b.Progress.Done)),
		humanize.Comma(int64(b.Progress.Failed)),
		elapsed.Round(time.Millisecond))

	if b.Status == batch.StatusCompleted {
		color.New(color.FgGreen).Fprintf(w, "Batch %s completed: %s\n", b.ID, totals)
	} else {
		color.New(color.FgRed).Fprintf(w, "Batch %s failed: %s\n", b.ID, totals)
	}

	if b.CSVArtifact != "" {
		fmt.Fprintf(w, "CSV artifact: %s\n", b.CSVArtifact)
	}
}

func statusCell(status batch.ItemStatus) string {
	switch status {
	case batch.ItemCompleted:
		return color.GreenString(status.String())
	case batch.ItemFailed:
		return color.RedString(status.String())
	default:
		return status.String()
	}
}
