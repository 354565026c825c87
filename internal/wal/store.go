package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/use-agent/reconweb/models"
)

// Store binds a snapshot file and a WAL file into the durable progress
// record the orchestrator reads and writes. It
// holds the current in-memory StateFile, kept consistent with the WAL
// by applying every event this process appends.
type Store struct {
	snapshotPath string
	walPath      string
	writer       *Writer

	mu                 sync.Mutex
	state              *models.StateFile
	compactThreshold   int
	eventsSinceCompact int

	// Corrupted reports whether recovery found a corrupted WAL tail.
	// Compaction refuses while true.
	Corrupted         bool
	CorruptedAtLine   int
	CorruptedContent  string
}

// Open loads state.json (or a fresh StateFile if absent), replays
// state.wal on top of it, and opens the WAL for further appends.
// compactThreshold is the number of uncompacted events after which
// Append triggers an automatic Compact.
func Open(dir string, compactThreshold int) (*Store, error) {
	snapshotPath := filepath.Join(dir, "state.json")
	walPath := filepath.Join(dir, "state.wal")

	snapshot, err := loadSnapshot(snapshotPath)
	if err != nil {
		return nil, err
	}

	events, corrupted, atLine, content, err := ReadWAL(walPath)
	if err != nil {
		return nil, err
	}
	state := Apply(snapshot, events)

	writer, err := OpenWriter(walPath, state.LastSeq)
	if err != nil {
		return nil, err
	}

	if compactThreshold <= 0 {
		compactThreshold = 500
	}

	return &Store{
		snapshotPath:     snapshotPath,
		walPath:          walPath,
		writer:           writer,
		state:            state,
		compactThreshold: compactThreshold,
		Corrupted:        corrupted,
		CorruptedAtLine:  atLine,
		CorruptedContent: content,
	}, nil
}

func loadSnapshot(path string) (*models.StateFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.NewStateFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: read snapshot %s: %w", path, err)
	}
	var sf models.StateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("wal: parse snapshot %s: %w", path, err)
	}
	if sf.Phases == nil {
		return models.NewStateFile(), nil
	}
	return &sf, nil
}

// Append assigns a seq to event, durably writes it, applies it to the
// in-memory state, and triggers compaction once the uncompacted event
// count crosses the configured threshold.
func (s *Store) Append(event models.WALEvent) error {
	written, err := s.writer.Append(event)
	if err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}

	s.mu.Lock()
	s.state = ApplyEvent(s.state, written)
	s.eventsSinceCompact++
	needCompact := s.eventsSinceCompact >= s.compactThreshold
	s.mu.Unlock()

	if needCompact {
		return s.Compact()
	}
	return nil
}

// State returns a snapshot (JSON round-trip copy) of the current
// in-memory StateFile, safe for the caller to read without racing
// further Append calls.
func (s *Store) State() (*models.StateFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(s.state)
	if err != nil {
		return nil, err
	}
	var clone models.StateFile
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

// Compact writes the current in-memory state to a temp file, renames
// it atomically over state.json, truncates the WAL, and appends a
// wal:compacted marker. Refused while the WAL is known to be
// corrupted (best-effort replay already happened at Open, but the
// corrupted tail past that point was never durably folded in, so
// discarding it via truncate would lose it).
func (s *Store) Compact() error {
	if s.Corrupted {
		return fmt.Errorf("wal: refusing to compact, WAL corrupted at line %d", s.CorruptedAtLine)
	}

	s.mu.Lock()
	snapshot, err := json.MarshalIndent(s.state, "", "  ")
	throughSeq := s.state.LastSeq
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("wal: marshal snapshot: %w", err)
	}

	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0o644); err != nil {
		return fmt.Errorf("wal: write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("wal: rename snapshot: %w", err)
	}

	if err := s.writer.Truncate(throughSeq); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}

	marker := models.WALEvent{
		Type:                models.EventWALCompacted,
		Timestamp:           time.Now().UTC().Format(time.RFC3339Nano),
		CompactedThroughSeq: throughSeq,
	}
	written, err := s.writer.Append(marker)
	if err != nil {
		return fmt.Errorf("wal: append compaction marker: %w", err)
	}

	s.mu.Lock()
	s.state = ApplyEvent(s.state, written)
	s.eventsSinceCompact = 0
	s.mu.Unlock()
	return nil
}

// Close flushes the writer and closes its file handle.
func (s *Store) Close() error {
	return s.writer.Close()
}
