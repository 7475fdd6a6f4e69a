package serial

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate is used when an inventory entry gives none.
const DefaultBaudRate = 115200

// Port is an open board console on a local serial line.
type Port struct {
	name string
	baud int

	mu     sync.Mutex
	port   serial.Port
	closed bool
}

// Open opens name at baud (8N1).
func Open(name string, baud int) (*Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial console %s: %w", name, err)
	}
	return &Port{name: name, baud: baud, port: p}, nil
}

// Name returns the device path.
func (p *Port) Name() string { return p.name }

// BaudRate returns the configured speed.
func (p *Port) BaudRate() int { return p.baud }

// Read blocks until console output is available or the port is closed.
func (p *Port) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err == nil && n == 0 && p.isClosed() {
		return 0, io.EOF
	}
	if err != nil && p.isClosed() {
		return n, io.EOF
	}
	return n, err
}

// Write sends data to the board.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.port.Write(b)
}

// Close releases the device. Pending reads return io.EOF.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.port.Close()
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
