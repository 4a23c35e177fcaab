// Package measure implements the sensor measurement primitives:
// start-byte detection, offset calibration, timed capture, and the
// report format the data files are written in. All reads go through a
// link.Link, so the same code runs against real serial hardware and
// the simulated stream.
package measure

import (
	"context"
	"io"

	"github.com/piconnect/piconnect-go/pkg/link"
)

// Sensor stream constants.
const (
	// SamplingRate is the sensor sampling rate in samples per second.
	SamplingRate = 15000

	// SampleSize is the size of one sample in bytes.
	SampleSize = 2

	// Sensitivity converts a raw sample value to acceleration in g.
	Sensitivity = 0.08
)

// readChunkSize bounds one blocking link read, so cancellation is
// observed between chunks.
const readChunkSize = 4096

// readStream fills buf from the link, checking for cancellation
// between chunk reads. Returns the context error when cancelled.
func readStream(ctx context.Context, l link.Link, buf []byte) error {
	for off := 0; off < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(buf) - off
		if n > readChunkSize {
			n = readChunkSize
		}
		m, err := io.ReadFull(l, buf[off:off+n])
		off += m
		if err != nil {
			return err
		}
	}
	return nil
}
