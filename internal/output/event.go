package output

import "repoport/internal/importer"

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, the console emits Events (one JSON object per line):
// - run.started
// - collection.started
// - collection.finished
// - run.finished
type Event struct {
	Type       string           `json:"type"`
	Repository string           `json:"repository,omitempty"`
	ProjectID  int64            `json:"project_id,omitempty"`
	RunID      string           `json:"run_id,omitempty"`
	Kind       string           `json:"kind,omitempty"`
	Counts     *importer.Counts `json:"counts,omitempty"`
	ElapsedMS  int64            `json:"elapsed_ms,omitempty"`
	ExitCode   int              `json:"exit_code,omitempty"`
}
