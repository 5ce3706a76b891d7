// Package eventlog records every envelope that crosses the messaging fabric
// as a CloudEvent in daily rotated JSONL files.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"underwriter/pkg/proto"
)

const (
	// EventSourcePrefix prefixes the sender to form the event source.
	EventSourcePrefix = "underwriter/"
	// EventTypePrefix prefixes the message type to form the event type.
	EventTypePrefix = "com.underwriter.message."

	extReceiver  = "receiver"
	extInReplyTo = "inreplyto"

	maxLineSize = 4 * 1024 * 1024
)

// Writer appends events to events-YYYY-MM-DD.jsonl, rotating at midnight.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
	now         func() time.Time
}

// NewWriter creates a new event log writer with daily rotation in logDir.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	writer := &Writer{logDir: logDir, now: time.Now}
	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return writer, nil
}

// ToEvent wraps an envelope in a CloudEvent. The envelope itself is the event data.
func ToEvent(env *proto.Envelope) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(env.ID)
	event.SetSource(EventSourcePrefix + env.Sender)
	event.SetType(EventTypePrefix + string(env.Type))
	event.SetTime(env.Timestamp)
	event.SetSpecVersion(cloudevents.VersionV1)
	if env.ApplicationID != "" {
		event.SetSubject(env.ApplicationID)
	}
	event.SetExtension(extReceiver, env.Receiver)
	if env.InReplyTo != "" {
		event.SetExtension(extInReplyTo, env.InReplyTo)
	}
	if err := event.SetData(cloudevents.ApplicationJSON, env); err != nil {
		return event, fmt.Errorf("failed to set event data: %w", err)
	}
	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("invalid event for message %s: %w", env.ID, err)
	}
	return event, nil
}

// EnvelopeFromEvent recovers the envelope carried by an event.
func EnvelopeFromEvent(event cloudevents.Event) (*proto.Envelope, error) {
	var env proto.Envelope
	if err := event.DataAs(&env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope from event %s: %w", event.ID(), err)
	}
	return &env, nil
}

// WriteEnvelope writes one envelope to the current log file with automatic rotation.
func (w *Writer) WriteEnvelope(env *proto.Envelope) error {
	if env == nil {
		return fmt.Errorf("nil envelope")
	}
	event, err := ToEvent(env)
	if err != nil {
		return err
	}
	return w.WriteEvent(event)
}

// WriteEvent writes one event as a JSON line.
func (w *Writer) WriteEvent(event cloudevents.Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	jsonData = append(jsonData, '\n')
	if _, err := w.currentFile.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := w.now().Format("2006-01-02")
	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}
	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := w.pathFor(newDate)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

func (w *Writer) pathFor(date string) string {
	return filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", date))
}

// Close closes the current log file. Later writes reopen a file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}
	return nil
}

// GetCurrentLogFile returns the path of the currently active log file.
func (w *Writer) GetCurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return w.pathFor(w.currentDate)
}

// ReadEvents parses every event in a log file. Blank lines are skipped.
func ReadEvents(logFilePath string) ([]cloudevents.Event, error) {
	file, err := os.Open(logFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	events := []cloudevents.Event{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		event := cloudevents.NewEvent()
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to parse event on line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}
	return events, nil
}

// ReadEnvelopes parses a log file back into envelopes.
func ReadEnvelopes(logFilePath string) ([]*proto.Envelope, error) {
	events, err := ReadEvents(logFilePath)
	if err != nil {
		return nil, err
	}
	envelopes := make([]*proto.Envelope, 0, len(events))
	for _, event := range events {
		env, err := EnvelopeFromEvent(event)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// ListLogFiles returns all event log files in the log directory, oldest first.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}
