package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"repoport/internal/importer"
)

func TestConsoleNDJSONLifecycle(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf, "ndjson")

	if err := console.RunStarted("octocat/hello", 42, "run-1"); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if err := console.CollectionStarted("issue"); err != nil {
		t.Fatalf("CollectionStarted: %v", err)
	}
	if err := console.CollectionFinished("issue", importer.Counts{Fetched: 3, Imported: 2, Skipped: 1}); err != nil {
		t.Fatalf("CollectionFinished: %v", err)
	}
	summary := map[string]importer.Counts{
		"issue": {Fetched: 3, Imported: 2, Skipped: 1},
	}
	if err := console.RunFinished(summary, 0); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}

	var events []Event
	for _, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		events = append(events, ev)
	}

	wantTypes := []string{"run.started", "collection.started", "collection.finished", "run.finished"}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %q, want %q", i, events[i].Type, want)
		}
	}
	if events[0].Repository != "octocat/hello" || events[0].ProjectID != 42 || events[0].RunID != "run-1" {
		t.Errorf("run.started fields = %+v", events[0])
	}
	if events[2].Counts == nil || events[2].Counts.Imported != 2 {
		t.Errorf("collection.finished counts = %+v", events[2].Counts)
	}
	if events[3].ExitCode != 0 {
		t.Errorf("run.finished exit code = %d, want 0", events[3].ExitCode)
	}
}

func TestConsoleTextSummary(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf, "text")

	if err := console.RunStarted("octocat/hello", 42, "run-1"); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	summary := map[string]importer.Counts{
		"issue": {Fetched: 5, Imported: 4, Failed: 1},
		"label": {Fetched: 2, Imported: 2},
	}
	if err := console.RunFinished(summary, 1); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"octocat/hello", "KIND", "issue", "label", "import finished with failures"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	issueIdx := strings.Index(out, "issue")
	labelIdx := strings.Index(out, "label")
	if issueIdx > labelIdx {
		t.Errorf("summary rows not sorted by kind:\n%s", out)
	}
}
