package models

// FileHit is one file in a ranked result list, scored by its best chunk.
type FileHit struct {
	FileID int64   `json:"file_id"`
	Path   string  `json:"path"`
	Score  float32 `json:"score"`
}

// QueryResult holds the ranked, de-duplicated files for one query.
type QueryResult struct {
	Query string     `json:"query"`
	Hits  []*FileHit `json:"hits"`
}

// Paths returns the hit paths in rank order.
func (r *QueryResult) Paths() []string {
	paths := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		paths[i] = h.Path
	}
	return paths
}

// IngestResult reports what happened to a single file.
type IngestResult struct {
	Path    string `json:"path"`
	FileID  int64  `json:"file_id,omitempty"`
	Chunks  int    `json:"chunks"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunSummary aggregates an ingest run over one or more paths.
type RunSummary struct {
	RunID   string          `json:"run_id"`
	Indexed int             `json:"indexed"`
	Skipped int             `json:"skipped"`
	Failed  int             `json:"failed"`
	Chunks  int             `json:"chunks"`
	Files   []*IngestResult `json:"files,omitempty"`
}

// Add folds a single file result into the summary.
func (s *RunSummary) Add(r *IngestResult) {
	s.Files = append(s.Files, r)
	switch {
	case r.Error != "":
		s.Failed++
	case r.Skipped:
		s.Skipped++
	default:
		s.Indexed++
		s.Chunks += r.Chunks
	}
}

// Stats describes the current state of an index/ledger pair.
type Stats struct {
	Files   int64 `json:"files"`
	Chunks  int64 `json:"chunks"`
	Vectors int   `json:"vectors"`
	Aligned bool  `json:"aligned"`
	Faulted bool  `json:"faulted"`
}

// ReconcileReport lists what a reconcile sweep removed.
type ReconcileReport struct {
	OrphanVectors []int64 `json:"orphan_vectors"`
	OrphanChunks  []int64 `json:"orphan_chunks"`
	// RemovedFiles are the paths dropped because some of their vectors were
	// missing. They are picked up again by the next ingest run.
	RemovedFiles []string `json:"removed_files"`
}

// Clean reports whether the sweep found nothing to repair.
func (r *ReconcileReport) Clean() bool {
	return len(r.OrphanVectors) == 0 && len(r.OrphanChunks) == 0
}
