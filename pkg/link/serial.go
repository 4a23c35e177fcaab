package link

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// probeReadTimeout bounds the enumeration probe read per device.
const probeReadTimeout = 250 * time.Millisecond

// SerialOpener opens real serial links at the sensor baud rate.
type SerialOpener struct{}

// NewSerialOpener creates an opener for real serial devices.
func NewSerialOpener() *SerialOpener {
	return &SerialOpener{}
}

// Open opens the serial device at the sensor baud rate.
func (o *SerialOpener) Open(path string) (Link, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &serialLink{port: port, path: path}, nil
}

// serialLink wraps a serial port as a Link.
type serialLink struct {
	port serial.Port
	path string

	mu     sync.Mutex
	closed bool
}

func (l *serialLink) Path() string {
	return l.path
}

func (l *serialLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, ErrLinkClosed
	}

	n, err := l.port.Read(p)
	if err != nil {
		l.mu.Lock()
		closed = l.closed
		l.mu.Unlock()
		if closed {
			return n, ErrLinkClosed
		}
		if err == io.EOF {
			return n, ErrLinkLost
		}
		return n, fmt.Errorf("%w: %v", ErrLinkLost, err)
	}
	return n, nil
}

func (l *serialLink) ResetInput() error {
	return l.port.ResetInputBuffer()
}

func (l *serialLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.port.Close()
}

// SerialEnumerator finds attached sensors among the serial devices of
// the host. A device counts as a sensor when it can be opened at the
// sensor baud rate and yields data within the probe window.
type SerialEnumerator struct {
	opener Opener
}

// NewSerialEnumerator creates an enumerator backed by real serial ports.
func NewSerialEnumerator() *SerialEnumerator {
	return &SerialEnumerator{opener: NewSerialOpener()}
}

// Enumerate lists serial devices that carry a readable sensor stream.
func (e *SerialEnumerator) Enumerate() ([]DeviceDesc, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	var devices []DeviceDesc
	for _, p := range ports {
		if !probeDevice(e.opener, p.Name) {
			continue
		}

		serialNo := p.SerialNumber
		if serialNo == "" {
			// Placeholder for directly wired boards without USB serial
			serialNo = "-"
		}
		name := p.Product
		if name == "" {
			name = p.Name
		}

		devices = append(devices, DeviceDesc{
			Path:   p.Name,
			Name:   name,
			Serial: serialNo,
		})
	}
	return devices, nil
}

// probeDevice opens a device and checks that it produces data.
func probeDevice(opener Opener, path string) bool {
	l, err := opener.Open(path)
	if err != nil {
		return false
	}
	defer l.Close()

	done := make(chan bool, 1)
	go func() {
		buf := make([]byte, 2)
		n, err := l.Read(buf)
		done <- err == nil && n > 0
	}()

	select {
	case ok := <-done:
		return ok
	case <-time.After(probeReadTimeout):
		return false
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Opener     = (*SerialOpener)(nil)
	_ Link       = (*serialLink)(nil)
	_ Enumerator = (*SerialEnumerator)(nil)
)
