package runstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/martinemde/harness/agentloop"
)

// Record is one persisted event line: a unix-seconds timestamp, the event
// kind, and its payload.
type Record struct {
	TS   float64        `json:"ts"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Event converts a stored record back into a loop event.
func (r Record) Event() agentloop.Event {
	sec := int64(r.TS)
	nsec := int64((r.TS - float64(sec)) * 1e9)
	return agentloop.Event{
		Kind:      agentloop.EventKind(r.Type),
		Timestamp: time.Unix(sec, nsec),
		Data:      r.Data,
	}
}

// EventLog is an append-only JSONL log of loop events. It implements
// agentloop.EventSink: every emitted event is serialized to disk and then
// fanned out to subscribed in-process sinks. Emit never returns an error
// and absorbs sink panics, so a slow or broken consumer cannot abort a
// run.
type EventLog struct {
	path string

	mu    sync.Mutex
	file  *os.File
	sinks []agentloop.EventSink
}

// OpenEventLog opens (or creates) the JSONL file at path for appending.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &EventLog{path: path, file: f}, nil
}

// Path returns the log file path.
func (l *EventLog) Path() string {
	return l.path
}

// Subscribe registers a sink that receives every event appended from now
// on.
func (l *EventLog) Subscribe(sink agentloop.EventSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Emit appends the event to the log file and forwards it to subscribers.
func (l *EventLog) Emit(event agentloop.Event) {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	rec := Record{
		TS:   float64(event.Timestamp.UnixNano()) / 1e9,
		Type: string(event.Kind),
		Data: data,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("event log marshal failed", "kind", event.Kind, "err", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	if l.file != nil {
		if _, err := l.file.Write(line); err != nil {
			slog.Warn("event log append failed", "path", l.path, "err", err)
		}
	}
	sinks := make([]agentloop.EventSink, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()

	for _, sink := range sinks {
		emitQuietly(sink, event)
	}
}

// Log appends an event of the given kind built from data, stamped now.
// It is the convenience form used for events that originate outside the
// agent loop (clone progress, cancellation notices, PR workers).
func (l *EventLog) Log(kind agentloop.EventKind, data map[string]any) {
	l.Emit(agentloop.Event{Kind: kind, Timestamp: time.Now(), Data: data})
}

// Close closes the underlying file. Safe to call multiple times; events
// emitted after Close still reach subscribers but are not persisted.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func emitQuietly(sink agentloop.EventSink, event agentloop.Event) {
	defer func() { _ = recover() }()
	sink.Emit(event)
}

// ReadEvents reads up to limit complete lines from the log starting at
// byte offset pos and returns the parsed records plus the offset to resume
// from. Malformed lines are skipped but still advance the offset and count
// toward the limit. A trailing partial line is left for the next read. A
// limit of zero or less reads to the end of the file. A missing file
// yields no records.
func ReadEvents(path string, pos int64, limit int) ([]Record, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, pos, nil
	}
	if err != nil {
		return nil, pos, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, pos, fmt.Errorf("stat event log: %w", err)
	}
	if pos < 0 {
		pos = 0
	}
	if pos > info.Size() {
		pos = info.Size()
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return nil, pos, fmt.Errorf("seek event log: %w", err)
	}

	var (
		records []Record
		next    = pos
		reader  = bufio.NewReader(f)
	)
	for n := 0; limit <= 0 || n < limit; n++ {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Partial trailing line (or read error): do not consume it.
			break
		}
		next += int64(len(line))
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, next, nil
}
