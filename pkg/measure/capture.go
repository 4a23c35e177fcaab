package measure

import (
	"context"
	"fmt"
	"time"

	"github.com/piconnect/piconnect-go/pkg/link"
)

// Recording is the raw byte stream of one timed capture, with the
// wall-clock bounds of the read.
type Recording struct {
	Data      []byte
	StartTime time.Time
	EndTime   time.Time
}

// Capture reads a fixed-duration sample stream from the link. The
// byte count is derived from the duration and the sensor data rate;
// cancellation is observed between chunk reads, so a cancelled
// capture returns the context error without a recording.
func Capture(ctx context.Context, l link.Link, seconds int) (*Recording, error) {
	if seconds <= 0 {
		return nil, fmt.Errorf("invalid capture duration: %d", seconds)
	}

	buf := make([]byte, seconds*SamplingRate*SampleSize)

	start := time.Now()
	if err := readStream(ctx, l, buf); err != nil {
		return nil, fmt.Errorf("capture read failed: %w", err)
	}
	end := time.Now()

	return &Recording{Data: buf, StartTime: start, EndTime: end}, nil
}
