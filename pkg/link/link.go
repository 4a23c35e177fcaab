// Package link abstracts the serial connection to an attached sensor
// board. The real implementation talks to a UART at 375000 baud; a
// simulated implementation generates a deterministic sample stream for
// development and tests.
package link

import (
	"errors"
	"io"
)

// BaudRate is the UART speed of the sensor data channel.
const BaudRate = 375000

// Link errors.
var (
	// ErrLinkLost indicates the serial connection dropped mid-read.
	ErrLinkLost = errors.New("serial link lost")

	// ErrLinkClosed indicates the link has been closed.
	ErrLinkClosed = errors.New("serial link closed")
)

// Link is an open serial connection to a sensor.
// Read returns raw sample bytes as they stream from the device.
type Link interface {
	io.Reader

	// Path returns the device path the link was opened on.
	Path() string

	// ResetInput discards buffered input so the next read starts at
	// the live stream.
	ResetInput() error

	// Close closes the link. Reads in progress fail with ErrLinkClosed.
	Close() error
}

// Opener opens serial links by device path.
type Opener interface {
	Open(path string) (Link, error)
}

// DeviceDesc describes a serial device found during enumeration.
type DeviceDesc struct {
	// Path is the device path (e.g., "/dev/ttyUSB0").
	Path string

	// Name is the device name reported by the driver.
	Name string

	// Serial is the hardware serial number, "-" when unavailable.
	Serial string
}

// Enumerator lists serial devices that carry a readable sensor stream.
type Enumerator interface {
	Enumerate() ([]DeviceDesc, error)
}
