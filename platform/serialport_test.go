package platform

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/gomeasure/config"
)

// fakePort feeds reads from a pipe and records writes.
type fakePort struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	mu      sync.Mutex
	written bytes.Buffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (f *fakePort) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakePort) Close() error { return f.r.Close() }

func (f *fakePort) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func TestSerialSendLineTerminates(t *testing.T) {
	s := NewSerialPort(config.SerialConfig{Port: "fake", BaudRate: 115200})
	port := newFakePort()
	s.attach(port)
	defer s.Close()

	require.NoError(t, s.SendLine("distance: 42 cm"))
	require.NoError(t, s.SendLine("caution\r\n"))

	assert.Equal(t, "distance: 42 cm\r\ncaution\r\n", port.output())
}

func TestSerialSendLineWhenClosed(t *testing.T) {
	s := NewSerialPort(config.SerialConfig{Port: "fake"})
	assert.Error(t, s.SendLine("x"))
}

func TestSerialCommands(t *testing.T) {
	s := NewSerialPort(config.SerialConfig{Port: "fake"})
	port := newFakePort()
	s.attach(port)

	go func() {
		_, _ = port.w.Write([]byte("o\r\nh"))
	}()

	var keys []string
	timeout := time.After(time.Second)
	for len(keys) < 2 {
		select {
		case e := <-s.Edges():
			keys = append(keys, e.Key)
		case <-timeout:
			t.Fatalf("timed out, got %v", keys)
		}
	}
	assert.Equal(t, []string{"o", "h"}, keys)

	require.NoError(t, s.Close())
	_, open := <-s.Edges()
	assert.False(t, open, "edges must be closed with the port")
}
