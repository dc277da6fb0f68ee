package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventRunStart EventType = "run_start"
	EventLoad     EventType = "load"
	EventWrite    EventType = "write"
	EventPublish  EventType = "publish"
	EventRunEnd   EventType = "run_end"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event of a run
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	RunID     string            `json:"run_id,omitempty"`
	Table     string            `json:"table,omitempty"`
	Location  string            `json:"location,omitempty"`
	Files     int               `json:"files,omitempty"`
	Rows      int64             `json:"rows,omitempty"`
	Bytes     int64             `json:"bytes,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"` // in milliseconds
	ErrorKind string            `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level.
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug).
// Every event is stamped with runID.
func NewEventLogger(outputDir, runID string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	if runID != "" {
		filename = fmt.Sprintf("events-%s-%.8s.jsonl", timestamp, runID)
	}
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    runID,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogRunStart logs the start of a run
func (l *EventLogger) LogRunStart(inputRoot, outputRoot, connector string, staging bool) error {
	return l.Log(&Event{
		Level: LevelInfo,
		Event: EventRunStart,
		Extra: map[string]string{
			"input_root":  inputRoot,
			"output_root": outputRoot,
			"connector":   connector,
			"staging":     fmt.Sprintf("%t", staging),
		},
	})
}

// LogLoad logs an input load
func (l *EventLogger) LogLoad(table, pattern string, files int, rows, bytes int64, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventLoad,
		Table:    table,
		Location: pattern,
		Files:    files,
		Rows:     rows,
		Bytes:    bytes,
		Duration: duration.Milliseconds(),
	})
}

// LogWrite logs a table write
func (l *EventLogger) LogWrite(table, location string, files int, rows, bytes int64, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventWrite,
		Table:    table,
		Location: location,
		Files:    files,
		Rows:     rows,
		Bytes:    bytes,
		Duration: duration.Milliseconds(),
	})
}

// LogPublish logs the move of a staged table to its final location
func (l *EventLogger) LogPublish(table, from, to string, objects int, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:    level,
		Event:    EventPublish,
		Table:    table,
		Location: to,
		Files:    objects,
		Error:    errMsg,
		Extra: map[string]string{
			"staged": from,
		},
	})
}

// LogRunEnd logs the outcome of a run
func (l *EventLogger) LogRunEnd(status string, duration time.Duration, errorKind string, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:     level,
		Event:     EventRunEnd,
		Duration:  duration.Milliseconds(),
		ErrorKind: errorKind,
		Error:     errMsg,
		Extra: map[string]string{
			"status": status,
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(table, errorKind string, err error) error {
	return l.Log(&Event{
		Level:     LevelError,
		Event:     EventError,
		Table:     table,
		ErrorKind: errorKind,
		Error:     err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
