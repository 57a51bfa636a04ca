package logging

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"lautenbacher.net/gomeasure/config"
)

// teeWriter holds log output back while the TUI is not yet up (or while it is
// suspended) and hands it over once a live target is set. A log file, when
// configured, gets every record immediately.
type teeWriter struct {
	mu      sync.Mutex
	pending bytes.Buffer
	live    io.Writer
	file    *os.File
	holding bool
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	switch {
	case w.holding:
		w.pending.Write(p)
	case w.live != nil:
		if _, err := w.live.Write(p); err != nil {
			firstErr = err
		}
	}
	if w.file != nil {
		if _, err := w.file.Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(p), firstErr
}

var (
	writer = &teeWriter{live: os.Stderr}
	level  = new(slog.LevelVar)
)

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a slog level.
// Anything else yields INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init installs the default slog logger. With hold set, output is kept back
// until SetOutput is called. A non-empty cfg.File is appended to in any case.
func Init(cfg config.LogConfig, hold bool) error {
	w := &teeWriter{holding: hold}
	if !hold {
		w.live = os.Stderr
	}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("can't open log file %s: %w", cfg.File, err)
		}
		w.file = file
	}
	writer = w
	level.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// SetLevel changes the level of the running logger, used on config reload.
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// SetOutput flushes held back output to target and logs live from now on.
func SetOutput(target io.Writer) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.pending.Len() > 0 {
		if _, err := target.Write(writer.pending.Bytes()); err != nil {
			return err
		}
		writer.pending.Reset()
	}
	writer.live = target
	writer.holding = false
	return nil
}

// Hold stops live output and keeps records back until the next SetOutput.
func Hold() {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	writer.live = nil
	writer.holding = true
}

// Close writes held back output to stderr unless a log file is configured,
// and closes the file.
func Close() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	var firstErr error
	// the file already got every held record
	if writer.pending.Len() > 0 && writer.file == nil {
		if _, err := os.Stderr.Write(writer.pending.Bytes()); err != nil {
			firstErr = err
		}
	}
	writer.pending.Reset()
	if writer.file != nil {
		if err := writer.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		writer.file = nil
	}
	return firstErr
}
