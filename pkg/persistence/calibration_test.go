package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/piconnect/piconnect-go/pkg/wire"
)

func TestCalibrationStore(t *testing.T) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		store := NewCalibrationStore(filepath.Join(t.TempDir(), "calibrations.json"))

		state := &CalibrationState{
			Calibrations: []DeviceCalibration{
				{DeviceID: "/dev/ttyUSB0", StartByte: 0x1F, Offset: 634.88, CalibratedAt: time.Now()},
			},
		}
		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Version != StateVersion {
			t.Errorf("Version = %d, want %d", got.Version, StateVersion)
		}
		if len(got.Calibrations) != 1 {
			t.Fatalf("got %d calibrations, want 1", len(got.Calibrations))
		}
		if got.Calibrations[0].StartByte != 0x1F {
			t.Errorf("StartByte = %#x, want 0x1f", got.Calibrations[0].StartByte)
		}
		if got.Calibrations[0].Offset != 634.88 {
			t.Errorf("Offset = %v, want 634.88", got.Calibrations[0].Offset)
		}
	})

	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewCalibrationStore(filepath.Join(t.TempDir(), "nonexistent.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %+v, want nil for missing file", got)
		}
	})

	t.Run("PutReplacesExisting", func(t *testing.T) {
		store := NewCalibrationStore(filepath.Join(t.TempDir(), "calibrations.json"))

		if err := store.Put(wire.CalibrationResult{DeviceID: "/dev/sim0", StartByte: 0x1F, Offset: 1.0}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Put(wire.CalibrationResult{DeviceID: "/dev/sim1", StartByte: 0x20, Offset: 2.0}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Put(wire.CalibrationResult{DeviceID: "/dev/sim0", StartByte: 0x21, Offset: 3.0}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got.Calibrations) != 2 {
			t.Fatalf("got %d calibrations, want 2", len(got.Calibrations))
		}
		for _, c := range got.Calibrations {
			if c.DeviceID == "/dev/sim0" && c.StartByte != 0x21 {
				t.Errorf("sim0 StartByte = %#x, want replaced value 0x21", c.StartByte)
			}
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewCalibrationStore(filepath.Join(t.TempDir(), "calibrations.json"))

		if err := store.Put(wire.CalibrationResult{DeviceID: "/dev/sim0"}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Error("state survived Clear()")
		}

		// Clearing twice is fine
		if err := store.Clear(); err != nil {
			t.Fatalf("second Clear() error = %v", err)
		}
	})
}
