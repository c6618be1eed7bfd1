// Package journal records lifecycle and job events to an append-only
// JSON-line file for audit. It is a reporting artifact, not recovery
// state; the engine never reads it back during a run.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType classifies a journal entry
type EventType string

const (
	EventCreating     EventType = "creating"
	EventCreated      EventType = "created"
	EventCreateFailed EventType = "create_failed"
	EventDeleted      EventType = "deleted"
	EventSubmitted    EventType = "submitted"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// Entry is a single journal record
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EventType       `json:"type"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Journal writes entries for one run
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

// Open creates or opens a journal in the specified directory
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	filename := fmt.Sprintf("perusta-%s.journal", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G304 -- path is built from caller-chosen dir
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}, nil
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Record adds an entry to the journal
func (j *Journal) Record(eventType EventType, resourceID string, data interface{}) error {
	return j.record(eventType, resourceID, data, nil)
}

// RecordError adds an entry carrying a failure
func (j *Journal) RecordError(eventType EventType, resourceID string, data interface{}, cause error) error {
	return j.record(eventType, resourceID, data, cause)
}

func (j *Journal) record(eventType EventType, resourceID string, data interface{}, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		raw = encoded
	}

	j.sequence++
	entry := Entry{
		Timestamp:  time.Now(),
		Sequence:   j.sequence,
		Type:       eventType,
		ResourceID: resourceID,
		Data:       raw,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	return j.writeEntry(entry)
}

func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if _, err := j.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately so the journal survives a crashed run
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return j.file.Sync()
}

// Reader replays a journal file entry by entry
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens the journal file at path for replay
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next returns the next entry, or io.EOF when the journal is exhausted
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read journal: %w", err)
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &entry, nil
}

// Close closes the underlying file
func (r *Reader) Close() error {
	return r.file.Close()
}
