// Package cli provides output helpers for the pricematch command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/costwise/pricematch/internal/models"
)

// OutputFormat is the format for match result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteMatchResults writes matched items to w in the given format. Use
// OutputJSON for parseable output consumable by other tools.
func WriteMatchResults(w io.Writer, results []models.MatchedItem, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	default:
		writeMatchResultsText(w, results)
		return nil
	}
}

func writeMatchResultsText(w io.Writer, results []models.MatchedItem) {
	fmt.Fprintf(w, "\nMatched %d items\n\n", len(results))
	for i, item := range results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "%d. %s\n", i+1, Truncate(item.SourceDescription, 80))
		fmt.Fprintf(w, "   → %s\n", Truncate(item.MatchedDescription, 80))
		fmt.Fprintf(w, "   Rate: %.2f", item.MatchedRate)
		if item.Unit != "" {
			fmt.Fprintf(w, " per %s", item.Unit)
		}
		if item.Quantity > 0 {
			fmt.Fprintf(w, " × %.2f = %.2f", item.Quantity, item.MatchedRate*item.Quantity)
		}
		fmt.Fprintf(w, "  (confidence %.1f%%)\n", item.Confidence*100)
	}
	fmt.Fprintln(w)
}

// WriteJobSummary writes a one-line-per-job listing.
func WriteJobSummary(w io.Writer, jobs []models.MatchingJob) {
	for _, j := range jobs {
		line := fmt.Sprintf("%s  %-10s  %3d%%  %s", j.ID, j.Status, j.Progress, j.FileName)
		if j.Error != "" {
			line += "  (" + j.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
