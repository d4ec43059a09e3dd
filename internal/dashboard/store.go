package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// logRecord is the serialisable representation of a captured log entry
// rendered in the dashboard UI.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore keeps the most recent log entries in a fixed-size ring. It
// implements logrus.Hook so it attaches directly to the application
// logger, and stops accepting entries once closed.
type logStore struct {
	mu      sync.RWMutex
	ring    []logRecord
	next    int
	filled  bool
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{ring: make([]logRecord, limit)}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}

	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}
			record.Fields[k] = renderField(v)
		}
	}

	s.mu.Lock()
	s.ring[s.next] = record
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.filled = true
	}
	s.mu.Unlock()
	return nil
}

// renderField flattens values that do not marshal usefully to JSON.
func renderField(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}

// snapshot returns the retained records, oldest first.
func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.filled {
		out := make([]logRecord, s.next)
		copy(out, s.ring[:s.next])
		return out
	}

	out := make([]logRecord, 0, len(s.ring))
	out = append(out, s.ring[s.next:]...)
	out = append(out, s.ring[:s.next]...)
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}
