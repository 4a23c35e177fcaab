package measure

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/piconnect/piconnect-go/pkg/link"
)

func TestCalibrateDetectsStartByte(t *testing.T) {
	l := link.NewSimLink("/dev/sim0", link.SimProfile{StartByte: 0x1F})

	cal, err := Calibrate(context.Background(), l)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if cal.StartByte != 0x1F {
		t.Errorf("StartByte = 0x%02X, want 0x1F", cal.StartByte)
	}
}

func TestCalibrateOffsetConstantStream(t *testing.T) {
	// Every sample is 0x1F00 = 7936, so the median is exact
	l := link.NewSimLink("/dev/sim0", link.SimProfile{
		StartByte: 0x1F,
		LowBytes:  []byte{0x00},
	})

	cal, err := Calibrate(context.Background(), l)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	want := 7936 * Sensitivity
	if math.Abs(cal.Offset-want) > 1e-9 {
		t.Errorf("Offset = %v, want %v", cal.Offset, want)
	}
}

func TestCalibrateCancelled(t *testing.T) {
	l := link.NewSimLink("/dev/sim0", link.SimProfile{StartByte: 0x1F})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Calibrate(ctx, l); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCalibrateLinkLost(t *testing.T) {
	l := link.NewSimLink("/dev/sim0", link.SimProfile{StartByte: 0x1F, FailAfter: 100})

	if _, err := Calibrate(context.Background(), l); !errors.Is(err, link.ErrLinkLost) {
		t.Errorf("expected ErrLinkLost, got %v", err)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		values []float64
		want   float64
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{7}, 7},
	}
	for _, tt := range tests {
		if got := median(tt.values); got != tt.want {
			t.Errorf("median(%v) = %v, want %v", tt.values, got, tt.want)
		}
	}
}

func TestCaptureLength(t *testing.T) {
	l := link.NewSimLink("/dev/sim0", link.SimProfile{StartByte: 0x1F})

	rec, err := Capture(context.Background(), l, 1)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if len(rec.Data) != SamplingRate*SampleSize {
		t.Errorf("recording size = %d, want %d", len(rec.Data), SamplingRate*SampleSize)
	}
	if rec.EndTime.Before(rec.StartTime) {
		t.Error("EndTime before StartTime")
	}
}

func TestCaptureInvalidDuration(t *testing.T) {
	l := link.NewSimLink("/dev/sim0", link.SimProfile{StartByte: 0x1F})

	if _, err := Capture(context.Background(), l, 0); err == nil {
		t.Error("expected error for zero duration")
	}
}

func TestCaptureLinkLost(t *testing.T) {
	l := link.NewSimLink("/dev/sim0", link.SimProfile{StartByte: 0x1F, FailAfter: 128})

	if _, err := Capture(context.Background(), l, 1); !errors.Is(err, link.ErrLinkLost) {
		t.Errorf("expected ErrLinkLost, got %v", err)
	}
}

func TestCaptureCancelled(t *testing.T) {
	l := link.NewSimLink("/dev/sim0", link.SimProfile{StartByte: 0x1F})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Capture(ctx, l, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBuildReportAlignment(t *testing.T) {
	rec := &Recording{Data: []byte{0x1F, 0x10, 0x55, 0x20, 0x20}}
	cal := Calibration{StartByte: 0x1F, Offset: 1.0}

	r := BuildReport(rec, cal)

	if len(r.Rows) != 3 {
		t.Fatalf("got %d rows, want 3: %+v", len(r.Rows), r.Rows)
	}
	if r.InvalidSamples != 1 {
		t.Errorf("InvalidSamples = %d, want 1", r.InvalidSamples)
	}

	if !r.Rows[0].Valid || r.Rows[0].Raw != 0x1F10 {
		t.Errorf("row 0 = %+v, want valid raw 0x1F10", r.Rows[0])
	}
	wantAcc := float64(0x1F10) * Sensitivity
	if math.Abs(r.Rows[0].Acc-wantAcc) > 1e-9 {
		t.Errorf("row 0 Acc = %v, want %v", r.Rows[0].Acc, wantAcc)
	}
	if math.Abs(r.Rows[0].Corrected-(wantAcc-1.0)) > 1e-9 {
		t.Errorf("row 0 Corrected = %v, want %v", r.Rows[0].Corrected, wantAcc-1.0)
	}

	if r.Rows[1].Valid {
		t.Error("row 1 should be invalid (misaligned byte)")
	}

	// Start byte one off is still accepted
	if !r.Rows[2].Valid || r.Rows[2].Raw != 0x2020 {
		t.Errorf("row 2 = %+v, want valid raw 0x2020", r.Rows[2])
	}
}

func TestBuildReportTrailingPartialSample(t *testing.T) {
	rec := &Recording{Data: []byte{0x1F, 0x10, 0x1F}}
	r := BuildReport(rec, Calibration{StartByte: 0x1F})

	if len(r.Rows) != 1 {
		t.Errorf("got %d rows, want 1 (trailing byte dropped)", len(r.Rows))
	}
}

func TestReportWrite(t *testing.T) {
	r := &Report{
		StartTime:      time.Date(2021, 3, 5, 15, 4, 5, 123456000, time.UTC),
		EndTime:        time.Date(2021, 3, 5, 15, 4, 6, 654321000, time.UTC),
		InvalidSamples: 1,
		Rows: []Row{
			{Valid: true, Raw: 0x1F10, Acc: 636.16, Corrected: 635.16},
			{Valid: false},
		},
	}

	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := "start time, end time\n" +
		"15:04:05.123456, 15:04:06.654321\n" +
		"incorrect sample count\n" +
		"1\n" +
		"raw data in hex, acceleration in dec, acceleration in g\n" +
		"1f10,636.16,635.16\n" +
		"NA,NA,NA\n"
	if buf.String() != want {
		t.Errorf("report output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestReportFilename(t *testing.T) {
	start := time.Date(2021, 3, 5, 9, 7, 2, 0, time.UTC)
	got := ReportFilename("sensorA", start)
	want := "sensorA_05032021_090702.txt"
	if got != want {
		t.Errorf("ReportFilename = %q, want %q", got, want)
	}
}
