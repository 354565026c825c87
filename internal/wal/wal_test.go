package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/use-agent/reconweb/models"
)

func TestReadWALStopsAtCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.wal")

	lines := []string{
		`{"seq":1,"timestamp":"2024-01-01T00:00:00Z","type":"phase:start","phase":"scrape"}`,
		`{"seq":2,"timestamp":"2024-01-01T00:00:01Z","type":"phase:complete","phase":"scrape"}`,
		`{"seq":3,"timestamp":"2024-01-01T00:00:02Z","type":"phase:start","phase":"extract"}`,
		`{corrupt`,
	}
	if err := os.WriteFile(path, []byte(joinLines(lines)), 0o644); err != nil {
		t.Fatal(err)
	}

	events, corrupted, atLine, content, err := ReadWAL(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !corrupted {
		t.Fatal("expected corrupted=true")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events before corruption, got %d", len(events))
	}
	if atLine != 4 {
		t.Fatalf("expected corruptedAtLine=4, got %d", atLine)
	}
	if len(content) > maxCorruptedPreview {
		t.Fatalf("corrupted content exceeds %d chars: %d", maxCorruptedPreview, len(content))
	}
	if content != "{corrupt" {
		t.Fatalf("unexpected corrupted content: %q", content)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	events := []models.WALEvent{
		{Seq: 1, Type: models.EventPhaseStart, Phase: models.PhaseScrape},
		{Seq: 2, Type: models.EventCapturePageStarted, URL: "https://example.com/a"},
		{Seq: 3, Type: models.EventCapturePageCompleted, URL: "https://example.com/a"},
	}

	once := Apply(models.NewStateFile(), events)
	twice := Apply(Apply(models.NewStateFile(), events), events)

	if once.LastSeq != twice.LastSeq {
		t.Fatalf("lastSeq diverged: %d vs %d", once.LastSeq, twice.LastSeq)
	}
	if len(once.Capture.CompletedURLs) != len(twice.Capture.CompletedURLs) {
		t.Fatalf("completedUrls diverged: %v vs %v", once.Capture.CompletedURLs, twice.Capture.CompletedURLs)
	}
	if len(twice.Capture.CompletedURLs) != 1 {
		t.Fatalf("expected exactly one completed URL after replay, got %v", twice.Capture.CompletedURLs)
	}
}

func TestApplyCompletedNeverInPendingOrInProgress(t *testing.T) {
	state := models.NewStateFile()
	events := []models.WALEvent{
		{Seq: 1, Type: models.EventCaptureURLsDiscovered, DiscoveredURLs: []string{"https://example.com/a"}},
		{Seq: 2, Type: models.EventCapturePageStarted, URL: "https://example.com/a"},
		{Seq: 3, Type: models.EventCapturePageCompleted, URL: "https://example.com/a"},
	}
	state = Apply(state, events)

	for _, u := range state.Capture.PendingURLs {
		if u == "https://example.com/a" {
			t.Fatal("completed URL leaked into pendingUrls")
		}
	}
	for _, u := range state.Capture.InProgressURLs {
		if u == "https://example.com/a" {
			t.Fatal("completed URL leaked into inProgressUrls")
		}
	}
}

func TestStoreAppendAndRecover(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, 500)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Append(models.WALEvent{Type: models.EventPhaseStart, Phase: models.PhaseScrape}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(models.WALEvent{Type: models.EventPhaseComplete, Phase: models.PhaseScrape}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	recovered, err := Open(dir, 500)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer recovered.Close()

	state, err := recovered.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.LastSeq != 2 {
		t.Fatalf("expected lastSeq=2 after recovery, got %d", state.LastSeq)
	}
	if state.Phases[models.PhaseScrape].Status != models.PhaseCompleted {
		t.Fatalf("expected scrape phase completed after recovery, got %v", state.Phases[models.PhaseScrape].Status)
	}
}

func TestStoreCompactTruncatesAndPreservesState(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Append(models.WALEvent{Type: models.EventPhaseStart, Phase: models.PhaseScrape}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Second append crosses compactThreshold=2 and triggers Compact.
	if err := store.Append(models.WALEvent{Type: models.EventPhaseComplete, Phase: models.PhaseScrape}); err != nil {
		t.Fatalf("append: %v", err)
	}

	state, err := store.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Phases[models.PhaseScrape].Status != models.PhaseCompleted {
		t.Fatalf("expected scrape completed after compaction, got %v", state.Phases[models.PhaseScrape].Status)
	}

	snapshotPath := filepath.Join(dir, "state.json")
	if _, err := os.Stat(snapshotPath); err != nil {
		t.Fatalf("expected snapshot file to exist: %v", err)
	}
}

func TestCompactRefusedWhileCorrupted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.wal")
	lines := []string{
		`{"seq":1,"timestamp":"2024-01-01T00:00:00Z","type":"phase:start","phase":"scrape"}`,
		`{corrupt`,
	}
	if err := os.WriteFile(path, []byte(joinLines(lines)), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(dir, 500)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if !store.Corrupted {
		t.Fatal("expected store to report corruption")
	}
	if store.CorruptedAtLine != 2 {
		t.Errorf("corruptedAtLine = %d, want 2", store.CorruptedAtLine)
	}

	state, err := store.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.LastSeq != 1 {
		t.Errorf("expected best-effort replay of events before the break, lastSeq = %d", state.LastSeq)
	}

	if err := store.Compact(); err == nil {
		t.Fatal("expected Compact to refuse while the WAL is corrupted")
	}
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}
