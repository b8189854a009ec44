package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskhub/internal/errors"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  level,
		Format: FormatJSON,
		Output: NewOutput(&buf),
	})
	return logger, &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerWritesJSON(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	logger.Info("task started", "task_id", "root.example.start")

	entry := lastEntry(t, buf)
	assert.Equal(t, "task started", entry["msg"])
	assert.Equal(t, "root.example.start", entry["task_id"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	logger, buf := newBufferLogger(LevelWarn)
	logger.Info("quiet")
	assert.Zero(t, buf.Len())

	logger.Warn("loud")
	assert.NotZero(t, buf.Len())
}

func TestWithErrorAddsHubCode(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	err := errors.New(errors.ErrCodeLockConflict, "instance locked")
	logger.WithError(err).Warn("update rejected")

	entry := lastEntry(t, buf)
	assert.Equal(t, "instance locked", entry["error"])
	assert.Equal(t, string(errors.ErrCodeLockConflict), entry["error_code"])
}

func TestWithTask(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	logger.WithTask("root.example.start", "inst-1").Info("ok")

	entry := lastEntry(t, buf)
	assert.Equal(t, "root.example.start", entry["task_id"])
	assert.Equal(t, "inst-1", entry["instance_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
