// Package wal implements the append-only, fsynced write-ahead log,
// its periodic snapshot compaction, and replay-based recovery. The
// single-writer serialisation is a single-consumer command channel:
// one background goroutine owns the file handle and every Append is a
// request queued to it, guaranteeing gap-free, strictly monotonic seq
// assignment across concurrent callers.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/use-agent/reconweb/models"
)

const maxCorruptedPreview = 200

type cmdKind int

const (
	cmdAppend cmdKind = iota
	cmdTruncate
)

type command struct {
	kind    cmdKind
	event   models.WALEvent
	nextSeq uint64 // for cmdTruncate: seq to resume numbering from
	resp    chan result
}

type result struct {
	event models.WALEvent
	err   error
}

// Writer is the single-writer append path for one WAL file. Every
// Append is serialised through an internal command channel serviced
// by one goroutine, so concurrent callers queue and are applied in
// the order they arrive.
type Writer struct {
	path  string
	file  *os.File
	cmds  chan command
	done  chan struct{}
	seq   uint64
}

// OpenWriter opens path for append (creating it if absent) and starts
// its single-writer goroutine. startSeq is the last seq already
// present in the file (0 if empty); the next appended event gets
// startSeq+1.
func OpenWriter(path string, startSeq uint64) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	w := &Writer{
		path: path,
		file: f,
		cmds: make(chan command),
		done: make(chan struct{}),
		seq:  startSeq,
	}
	go w.run()
	return w, nil
}

func (w *Writer) run() {
	defer close(w.done)
	for cmd := range w.cmds {
		switch cmd.kind {
		case cmdAppend:
			w.seq++
			cmd.event.Seq = w.seq
			if cmd.event.Timestamp == "" {
				cmd.event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
			}
			err := w.writeLine(cmd.event)
			cmd.resp <- result{event: cmd.event, err: err}
		case cmdTruncate:
			err := w.truncate()
			if err == nil {
				w.seq = cmd.nextSeq
			}
			cmd.resp <- result{err: err}
		}
	}
}

func (w *Writer) writeLine(event models.WALEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("wal: marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("wal: write: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

func (w *Writer) truncate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close for truncate: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("wal: reopen after truncate: %w", err)
	}
	w.file = f
	return nil
}

// Append assigns the next sequence number to event, writes it, and
// fsyncs before returning. WAL write failures are fatal to the caller
// — progress recording is a correctness requirement, not best-effort.
func (w *Writer) Append(event models.WALEvent) (models.WALEvent, error) {
	resp := make(chan result, 1)
	w.cmds <- command{kind: cmdAppend, event: event, resp: resp}
	r := <-resp
	return r.event, r.err
}

// Truncate empties the WAL file and resumes seq numbering at
// resumeSeq+1 on the next Append. Used by Compact after a snapshot
// has durably absorbed everything up to resumeSeq.
func (w *Writer) Truncate(resumeSeq uint64) error {
	resp := make(chan result, 1)
	w.cmds <- command{kind: cmdTruncate, nextSeq: resumeSeq, resp: resp}
	r := <-resp
	return r.err
}

// Close stops the writer goroutine and closes the underlying file.
func (w *Writer) Close() error {
	close(w.cmds)
	<-w.done
	return w.file.Close()
}

// ReadWAL reads every event in path in order. If a line fails to
// parse, reading stops there: the events parsed before the failure
// point are returned alongside corrupted=true, the 1-based line
// number, and a ≤200-char preview of the offending line. A missing
// file is treated as an empty WAL, not an error.
func ReadWAL(path string) (events []models.WALEvent, corrupted bool, corruptedAtLine int, corruptedContent string, err error) {
	f, openErr := os.Open(path)
	if os.IsNotExist(openErr) {
		return nil, false, 0, "", nil
	}
	if openErr != nil {
		return nil, false, 0, "", fmt.Errorf("wal: open %s: %w", path, openErr)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev models.WALEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			preview := string(raw)
			if len(preview) > maxCorruptedPreview {
				preview = preview[:maxCorruptedPreview]
			}
			return events, true, line, preview, nil
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, false, 0, "", fmt.Errorf("wal: scan %s: %w", path, err)
	}
	return events, false, 0, "", nil
}

// TailLines returns the last n raw lines of the WAL file at path, in
// file order. A missing file yields an empty slice.
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var ring []string
	for scanner.Scan() {
		line := scanner.Text()
		ring = append(ring, line)
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wal: scan %s: %w", path, err)
	}
	return ring, nil
}
