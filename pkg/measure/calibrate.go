package measure

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/piconnect/piconnect-go/pkg/link"
)

// detectWindowSize is 125 ms of stream at the sensor data rate, the
// window the start-byte detector samples.
const detectWindowSize = SamplingRate * SampleSize / 8

// offsetWindowSize is the number of bytes (about 1000 samples) the
// offset computation reads.
const offsetWindowSize = 2000

// ErrNoStartByte indicates the detected start byte never appeared in
// the offset sample window.
var ErrNoStartByte = errors.New("start byte not found in sample window")

// Calibration holds the per-device values a capture needs to decode
// the sensor stream.
type Calibration struct {
	// StartByte is the high byte every aligned sample begins with.
	StartByte uint8

	// Offset is the static acceleration bias in g, subtracted from
	// every decoded sample.
	Offset float64
}

// Calibrate detects the sensor start byte and computes the offset
// correction. The start byte is the most frequent byte in a short
// stream window; the offset is the median acceleration over a
// ~1000-sample window decoded with that start byte.
func Calibrate(ctx context.Context, l link.Link) (Calibration, error) {
	if err := l.ResetInput(); err != nil {
		return Calibration{}, fmt.Errorf("input reset failed: %w", err)
	}

	startByte, err := detectStartByte(ctx, l)
	if err != nil {
		return Calibration{}, err
	}
	offset, err := computeOffset(ctx, l, startByte)
	if err != nil {
		return Calibration{}, err
	}
	return Calibration{StartByte: startByte, Offset: offset}, nil
}

// detectStartByte reads a 125 ms window and returns its most frequent
// byte.
func detectStartByte(ctx context.Context, l link.Link) (uint8, error) {
	buf := make([]byte, detectWindowSize)
	if err := readStream(ctx, l, buf); err != nil {
		return 0, fmt.Errorf("start byte detection read failed: %w", err)
	}

	var counts [256]int
	for _, b := range buf {
		counts[b]++
	}

	best := 0
	for b, n := range counts {
		if n > counts[best] {
			best = b
		}
	}
	return uint8(best), nil
}

// computeOffset reads an offset window, decodes it from the first
// start byte onward, and returns the median acceleration.
func computeOffset(ctx context.Context, l link.Link, startByte uint8) (float64, error) {
	buf := make([]byte, offsetWindowSize)
	if err := readStream(ctx, l, buf); err != nil {
		return 0, fmt.Errorf("offset window read failed: %w", err)
	}

	first := -1
	for i, b := range buf {
		if b == startByte {
			first = i
			break
		}
	}
	if first < 0 {
		return 0, ErrNoStartByte
	}

	var values []float64
	for i := first; i+SampleSize <= len(buf); i += SampleSize {
		raw := uint16(buf[i])<<8 | uint16(buf[i+1])
		values = append(values, float64(raw)*Sensitivity)
	}
	if len(values) == 0 {
		return 0, ErrNoStartByte
	}
	return median(values), nil
}

// median returns the middle value of the set, averaging the two middle
// values for even-sized sets.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
