package platform

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/peripheral"
)

const lineTerminator = "\r\n"

// SerialPort is the UART text channel: reporter lines go out terminated
// with CRLF, every received printable byte comes back as a command edge.
type SerialPort struct {
	name     string
	baudRate int
	mu       sync.Mutex
	conn     io.ReadWriteCloser
	commands chan peripheral.Edge
	done     chan struct{}
}

var (
	_ peripheral.LineSink   = (*SerialPort)(nil)
	_ peripheral.EdgeSource = (*SerialPort)(nil)
)

func NewSerialPort(cfg config.SerialConfig) *SerialPort {
	return &SerialPort{
		name:     cfg.Port,
		baudRate: cfg.BaudRate,
		commands: make(chan peripheral.Edge, edgeBuffer),
		done:     make(chan struct{}),
	}
}

// Open opens the device and starts the command reader.
func (s *SerialPort) Open() error {
	port, err := serial.Open(s.name, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.name, err)
	}
	slog.Info("Opened serial port", "port", s.name, "baud", s.baudRate)
	s.attach(port)
	return nil
}

func (s *SerialPort) attach(conn io.ReadWriteCloser) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	go s.readCommands(conn)
}

func (s *SerialPort) readCommands(conn io.Reader) {
	defer close(s.done)
	defer close(s.commands)
	r := bufio.NewReader(conn)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err != io.EOF {
				slog.Debug("Serial reader stopped", "port", s.name, "error", err)
			}
			return
		}
		if b <= ' ' || b > '~' {
			continue
		}
		select {
		case s.commands <- peripheral.Edge{Key: string(b), At: time.Now()}:
		default:
			slog.Warn("Dropping serial command, consumer is busy", "command", string(b))
		}
	}
}

// Edges delivers received command bytes. The channel is closed when the port
// is closed.
func (s *SerialPort) Edges() <-chan peripheral.Edge {
	return s.commands
}

func (s *SerialPort) SendLine(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("serial port %s is not open", s.name)
	}
	line := strings.TrimRight(text, lineTerminator) + lineTerminator
	if _, err := io.WriteString(s.conn, line); err != nil {
		return fmt.Errorf("failed to write to serial port %s: %w", s.name, err)
	}
	return nil
}

func (s *SerialPort) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-s.done
	return err
}
