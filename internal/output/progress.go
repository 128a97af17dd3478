// Package output renders import progress for humans (text) and machines
// (NDJSON events).
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"

	"repoport/internal/importer"
)

type Console struct {
	writer io.Writer
	format string // "text" or "ndjson"
	mu     sync.Mutex
	start  time.Time
}

func NewConsole(w io.Writer, format string) *Console {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &Console{writer: w, format: format, start: time.Now()}
}

func (c *Console) emit(ev Event) error {
	encoder := json.NewEncoder(c.writer)
	if err := encoder.Encode(ev); err != nil {
		return err
	}
	return flushIfPossible(c.writer)
}

func (c *Console) RunStarted(repository string, projectID int64, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()

	if c.format == "ndjson" {
		return c.emit(Event{
			Type:       "run.started",
			Repository: repository,
			ProjectID:  projectID,
			RunID:      runID,
		})
	}
	_, err := fmt.Fprintf(c.writer, "Importing %s into project %d (run %s)\n", repository, projectID, runID)
	return err
}

func (c *Console) CollectionStarted(kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.format == "ndjson" {
		return c.emit(Event{Type: "collection.started", Kind: kind})
	}
	_, err := fmt.Fprintf(c.writer, "  %s...\n", kind)
	return err
}

func (c *Console) CollectionFinished(kind string, counts importer.Counts) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.format == "ndjson" {
		return c.emit(Event{Type: "collection.finished", Kind: kind, Counts: &counts})
	}
	return nil
}

// RunFinished prints the per-kind summary table and the final verdict.
func (c *Console) RunFinished(summary map[string]importer.Counts, exitCode int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.start)

	if c.format == "ndjson" {
		return c.emit(Event{
			Type:      "run.finished",
			ElapsedMS: elapsed.Milliseconds(),
			ExitCode:  exitCode,
		})
	}

	printf := func(format string, args ...any) error {
		_, err := fmt.Fprintf(c.writer, format, args...)
		return err
	}

	if err := printf("\n%-22s %10s %10s %10s %10s\n", "KIND", "FETCHED", "IMPORTED", "SKIPPED", "FAILED"); err != nil {
		return err
	}
	var failed int
	for _, kind := range sortedKinds(summary) {
		counts := summary[kind]
		failed += counts.Failed
		failedCol := fmt.Sprintf("%10d", counts.Failed)
		if counts.Failed > 0 {
			failedCol = color.RedString("%10d", counts.Failed)
		}
		if err := printf("%-22s %10d %10d %10d %s\n",
			kind, counts.Fetched, counts.Imported, counts.Skipped, failedCol); err != nil {
			return err
		}
	}

	verdict := color.GreenString("import finished")
	if failed > 0 {
		verdict = color.YellowString("import finished with failures")
	}
	if exitCode >= 3 {
		verdict = color.RedString("import aborted")
	}
	if err := printf("\n%s in %s\n", verdict, elapsed.Round(time.Second)); err != nil {
		return err
	}
	return flushIfPossible(c.writer)
}

func sortedKinds(summary map[string]importer.Counts) []string {
	kinds := make([]string, 0, len(summary))
	for kind := range summary {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

type flusher interface {
	Flush() error
}

func flushIfPossible(w io.Writer) error {
	f, ok := w.(flusher)
	if !ok {
		return nil
	}
	return f.Flush()
}
