// Package cli formats semret results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/pkg/utils"
)

// OutputFormat selects human-readable or JSON output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// FormatFor returns OutputJSON when asJSON is set.
func FormatFor(asJSON bool) OutputFormat {
	if asJSON {
		return OutputJSON
	}
	return OutputText
}

const maxErrorLen = 160

// Status is what `semret status` reports.
type Status struct {
	*models.Stats
	IndexType  string            `json:"index_type"`
	Dimensions int               `json:"dimensions"`
	Disk       storage.Footprint `json:"disk"`
}

// WriteSearchResults writes one block per query, files in rank order.
func WriteSearchResults(w io.Writer, results []*models.QueryResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []*models.QueryResult{}
		}
		return writeJSON(w, map[string]any{"results": results})
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Query: %s\n", r.Query)
		if len(r.Hits) == 0 {
			fmt.Fprintln(w, "  (no matches)")
			continue
		}
		for rank, h := range r.Hits {
			fmt.Fprintf(w, "  %2d. %.4f  %s\n", rank+1, h.Score, h.Path)
		}
	}
	return nil
}

// WriteRunSummary writes the outcome of an ingest run. Text output lists
// only failures; successful files are counted.
func WriteRunSummary(w io.Writer, s *models.RunSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	for _, f := range s.Files {
		if f.Error != "" {
			fmt.Fprintf(w, "failed  %s: %s\n", f.Path, utils.Truncate(f.Error, maxErrorLen))
		}
	}
	fmt.Fprintf(w, "Run %s: %d indexed, %d skipped, %d failed, %d chunks\n",
		s.RunID, s.Indexed, s.Skipped, s.Failed, s.Chunks)
	return nil
}

// WriteStatus writes counts, alignment and disk usage.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Files:      %d\n", st.Files)
	fmt.Fprintf(w, "Chunks:     %d\n", st.Chunks)
	fmt.Fprintf(w, "Vectors:    %d\n", st.Vectors)
	fmt.Fprintf(w, "Index:      %s (%d dimensions)\n", st.IndexType, st.Dimensions)
	fmt.Fprintf(w, "Disk:       %s (ledger %s, index %s)\n",
		HumanBytes(st.Disk.TotalBytes), HumanBytes(st.Disk.LedgerBytes), HumanBytes(st.Disk.IndexBytes))
	switch {
	case st.Faulted:
		fmt.Fprintln(w, "State:      FAULTED (run `semret reconcile`)")
	case !st.Aligned:
		fmt.Fprintln(w, "State:      misaligned (run `semret reconcile`)")
	default:
		fmt.Fprintln(w, "State:      aligned")
	}
	return nil
}

// WriteReconcileReport writes what a reconcile sweep removed.
func WriteReconcileReport(w io.Writer, r *models.ReconcileReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	if r.Clean() {
		fmt.Fprintln(w, "Ledger and index are consistent.")
		return nil
	}
	fmt.Fprintf(w, "Removed %d orphan vectors and %d orphan chunk rows.\n",
		len(r.OrphanVectors), len(r.OrphanChunks))
	if len(r.RemovedFiles) > 0 {
		fmt.Fprintf(w, "Dropped %d files with missing vectors; ingest them again:\n", len(r.RemovedFiles))
		for _, p := range r.RemovedFiles {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	return nil
}

// HumanBytes formats n with a binary unit suffix.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
