package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/gomeasure/config"
)

type failingWriter struct{}

func (fw *failingWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func TestHeldOutputIsFlushedToTUI(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{Level: "DEBUG", Format: "text"}, true))

	slog.Info("Initial log")

	var tuiPane bytes.Buffer
	require.NoError(t, SetOutput(&tuiPane))
	assert.Contains(t, tuiPane.String(), "Initial log", "held log should be flushed to the TUI")

	slog.Info("Live log")
	assert.Contains(t, tuiPane.String(), "Live log")

	Hold()
	slog.Info("Held log")
	assert.NotContains(t, tuiPane.String(), "Held log")

	require.NoError(t, Close())
}

func TestFileLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, Init(config.LogConfig{Level: "INFO", Format: "json", File: path}, false))

	slog.Info("HW log", "key", "value")
	slog.Debug("should be filtered")
	require.NoError(t, Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"HW log"`)
	assert.Contains(t, string(content), `"key":"value"`)
	assert.NotContains(t, string(content), "should be filtered")
}

func TestFileGetsRecordsWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "held.log")
	require.NoError(t, Init(config.LogConfig{Level: "INFO", File: path}, true))

	slog.Info("while held")
	require.NoError(t, Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(content, []byte("while held")), "record must be written exactly once")
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{Level: "WARN"}, true))
	var out bytes.Buffer
	require.NoError(t, SetOutput(&out))

	slog.Info("quiet")
	SetLevel("debug")
	slog.Debug("loud")

	assert.NotContains(t, out.String(), "quiet")
	assert.Contains(t, out.String(), "loud")
	require.NoError(t, Close())
}

func TestSetOutputError(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{}, true))
	slog.Info("pending")
	assert.Error(t, SetOutput(&failingWriter{}))
	require.NoError(t, Close())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestConcurrentLogging(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{Level: "INFO"}, true))
	var out bytes.Buffer
	var mu sync.Mutex
	require.NoError(t, SetOutput(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return out.Write(p)
	})))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("concurrent")
		}()
	}
	wg.Wait()
	require.NoError(t, Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, bytes.Count(out.Bytes(), []byte("concurrent")))
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
