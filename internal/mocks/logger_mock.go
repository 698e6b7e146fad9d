package mocks

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mindcare/realtime-service/internal/domain"
)

// MockLogger implements domain.Logger and records every entry.
type MockLogger struct {
	mu      sync.RWMutex
	entries []LogEntry

	InfoCount  int64
	WarnCount  int64
	ErrorCount int64
	DebugCount int64
}

type LogEntry struct {
	Level     string
	Message   string
	Fields    map[string]any
	Timestamp time.Time
}

var _ domain.Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Info(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(&m.InfoCount, 1)
	m.add("INFO", msg, fields...)
}

func (m *MockLogger) Warn(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(&m.WarnCount, 1)
	m.add("WARN", msg, fields...)
}

func (m *MockLogger) Error(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(&m.ErrorCount, 1)
	m.add("ERROR", msg, fields...)
}

func (m *MockLogger) Debug(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(&m.DebugCount, 1)
	m.add("DEBUG", msg, fields...)
}

// Fatal records the entry without exiting.
func (m *MockLogger) Fatal(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(&m.ErrorCount, 1)
	m.add("FATAL", msg, fields...)
}

func (m *MockLogger) With(fields ...any) domain.Logger { return m }

func (m *MockLogger) Sync() error { return nil }

func (m *MockLogger) add(level, msg string, fields ...any) {
	fieldMap := make(map[string]any)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			fieldMap[key] = fields[i+1]
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, LogEntry{Level: level, Message: msg, Fields: fieldMap, Timestamp: time.Now()})
}

// Entries returns a copy of the recorded entries.
func (m *MockLogger) Entries() []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Has reports whether an entry at level contains substr in its message.
func (m *MockLogger) Has(level, substr string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
