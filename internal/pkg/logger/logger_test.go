package logger

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEntry struct {
	level   string
	module  string
	message string
	details map[string]interface{}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []recordedEntry
}

func (r *recordingLogger) add(level, module, message string, details map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedEntry{level, module, message, details})
}

func (r *recordingLogger) Debug(m, msg string, d map[string]interface{}) { r.add("debug", m, msg, d) }
func (r *recordingLogger) Info(m, msg string, d map[string]interface{}) { r.add("info", m, msg, d) }
func (r *recordingLogger) Warn(m, msg string, d map[string]interface{}) { r.add("warn", m, msg, d) }
func (r *recordingLogger) Error(m, msg string, d map[string]interface{}) { r.add("error", m, msg, d) }
func (r *recordingLogger) Sync() error { return nil }

func TestWatermillAdapterMergesFields(t *testing.T) {
	rec := &recordingLogger{}
	var adapter watermill.LoggerAdapter = NewWatermillAdapter(rec, "EventBus")

	child := adapter.With(watermill.LogFields{"topic": "stream"})
	child.Info("subscribed", watermill.LogFields{"session_id": "s1"})
	child.Error("publish failed", errors.New("closed"), nil)
	adapter.Trace("tick", nil)

	require.Len(t, rec.entries, 3)

	assert.Equal(t, "info", rec.entries[0].level)
	assert.Equal(t, "EventBus", rec.entries[0].module)
	assert.Equal(t, "stream", rec.entries[0].details["topic"])
	assert.Equal(t, "s1", rec.entries[0].details["session_id"])

	assert.Equal(t, "error", rec.entries[1].level)
	assert.EqualError(t, rec.entries[1].details["error"].(error), "closed")

	assert.Equal(t, "debug", rec.entries[2].level)
	assert.NotContains(t, rec.entries[2].details, "topic")
}

func TestIsolatedLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.log")
	log := NewIsolatedLogger(path)

	log.Info("Router", "step", map[string]interface{}{"name": "Direct"})
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"module":"Router"`)
	assert.Contains(t, string(raw), `"name":"Direct"`)
}

func TestNopLoggerAcceptsNilDetails(t *testing.T) {
	log := NewNopLogger()
	assert.NotPanics(t, func() {
		log.Debug("m", "x", nil)
		log.Error("m", "x", nil)
	})
}
