// Package persistence provides runtime state persistence for PiConnect
// clients.
//
// Calibration results are persisted to a JSON file so that a capture
// run does not need a fresh calibration every time the client starts.
// Measurement files themselves are handled by the artifact package.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/piconnect/piconnect-go/pkg/wire"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// CalibrationState contains the persisted calibration results.
type CalibrationState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Calibrations contains the most recent calibration per device.
	Calibrations []DeviceCalibration `json:"calibrations,omitempty"`
}

// DeviceCalibration is one device's stored calibration.
type DeviceCalibration struct {
	// DeviceID identifies the calibrated device.
	DeviceID string `json:"device_id"`

	// StartByte is the detected sample start byte.
	StartByte uint8 `json:"start_byte"`

	// Offset is the computed acceleration offset in g.
	Offset float64 `json:"offset"`

	// CalibratedAt is when the calibration job completed.
	CalibratedAt time.Time `json:"calibrated_at"`
}

// CalibrationStore manages persistence of calibration results to a
// JSON file.
type CalibrationStore struct {
	mu   sync.Mutex
	path string
}

// NewCalibrationStore creates a new calibration store.
func NewCalibrationStore(path string) *CalibrationStore {
	return &CalibrationStore{path: path}
}

// Save persists the calibration state to disk.
func (s *CalibrationStore) Save(state *CalibrationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}

// Load reads the calibration state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *CalibrationStore) Load() (*CalibrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &CalibrationState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}

	return state, nil
}

// Clear removes the state file.
func (s *CalibrationStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Put replaces one device's stored calibration and saves the state.
func (s *CalibrationStore) Put(cal wire.CalibrationResult) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	if state == nil {
		state = &CalibrationState{}
	}

	entry := DeviceCalibration{
		DeviceID:     cal.DeviceID,
		StartByte:    cal.StartByte,
		Offset:       cal.Offset,
		CalibratedAt: time.Now(),
	}

	replaced := false
	for i, c := range state.Calibrations {
		if c.DeviceID == cal.DeviceID {
			state.Calibrations[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		state.Calibrations = append(state.Calibrations, entry)
	}

	state.SavedAt = time.Time{}
	return s.Save(state)
}
