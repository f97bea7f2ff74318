package operations

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogEntry is the structured record of a failed run forwarded to the persistent log. It mirrors
// the shape of the filtered Status tree it was built from.
type LogEntry struct {
	ID        string     `json:"id"`
	PluginID  string     `json:"pluginId"`
	Timestamp *time.Time `json:"timestamp"`
	Severity  Severity   `json:"severity"`
	Message   string     `json:"message"`
	Err       *LogError  `json:"error,omitempty"`
	Children  []LogEntry `json:"children,omitempty"`
}

// LogError represents the cause of a LogEntry.
// Its purpose is to have an exported field `Message` for marshalling as the
// native error cant be marshaled to JSON.
type LogError struct {
	Message string `json:"message"`
}

// Error implements the error interface.
func (e LogError) Error() string {
	return e.Message
}

// NewLogEntry converts a status tree into a LogEntry attributed to pluginID. Only the root
// entry gets an ID and a timestamp; children are nested records of the same entry.
func NewLogEntry(pluginID string, st Status) LogEntry {
	now := time.Now()
	entry := newLogEntryNode(pluginID, st)
	entry.ID = uuid.New().String()
	entry.Timestamp = &now

	return entry
}

func newLogEntryNode(pluginID string, st Status) LogEntry {
	e := LogEntry{
		PluginID: pluginID,
		Severity: st.Severity(),
		Message:  st.Message(),
	}
	if st.Cause() != nil {
		e.Err = &LogError{Message: st.Cause().Error()}
	}
	for _, c := range st.Children() {
		e.Children = append(e.Children, newLogEntryNode(pluginID, c))
	}

	return e
}

// Leaves returns the entries of the tree that have no children.
func (e LogEntry) Leaves() []LogEntry {
	if len(e.Children) == 0 {
		return []LogEntry{e}
	}

	var leaves []LogEntry
	for _, c := range e.Children {
		leaves = append(leaves, c.Leaves()...)
	}

	return leaves
}

var ErrLogEntryNotFound = errors.New("log entry not found")

// LogSink is the persistent log that failed runs are forwarded to.
type LogSink interface {
	AddEntry(entry LogEntry) error
}

// LogStore is a LogSink that can also be read back.
type LogStore interface {
	LogSink
	GetEntry(id string) (LogEntry, error)
	GetEntries() ([]LogEntry, error)
}

// MemoryLogSink stores log entries in memory.
// This is thread-safe and can be used in a multi-threaded environment.
type MemoryLogSink struct {
	entries []LogEntry
	mu      sync.RWMutex
}

var _ LogStore = (*MemoryLogSink)(nil)

type MemoryLogSinkOption func(*MemoryLogSink)

// WithEntries is an option to initialize the MemoryLogSink with a list of entries.
func WithEntries(entries []LogEntry) MemoryLogSinkOption {
	return func(s *MemoryLogSink) {
		s.entries = entries
	}
}

// NewMemoryLogSink creates a new MemoryLogSink.
func NewMemoryLogSink(options ...MemoryLogSinkOption) *MemoryLogSink {
	sink := &MemoryLogSink{}
	for _, opt := range options {
		opt(sink)
	}

	return sink
}

// AddEntry adds an entry to the memory sink.
func (s *MemoryLogSink) AddEntry(entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)

	return nil
}

// GetEntries returns all entries.
func (s *MemoryLogSink) GetEntries() ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Create a copy to avoid data races after returning
	entries := make([]LogEntry, len(s.entries))
	copy(entries, s.entries)

	return entries, nil
}

// GetEntry returns an entry by ID.
// Returns ErrLogEntryNotFound if the entry is not found.
func (s *MemoryLogSink) GetEntry(id string) (LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		if entry.ID == id {
			return entry, nil
		}
	}

	return LogEntry{}, fmt.Errorf("entry_id %s: %w", id, ErrLogEntryNotFound)
}
