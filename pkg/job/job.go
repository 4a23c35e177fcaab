// Package job runs measurement jobs against reserved devices. A job
// moves Pending to Running to exactly one terminal state (Completed,
// Failed, or Cancelled). Target devices are Busy while the job runs
// and settle back to Reserved (or Idle once their session is gone) on
// the terminal transition; a lost serial link fails the job and takes
// only the affected device Offline.
package job

import (
	"sync"
	"time"

	"github.com/piconnect/piconnect-go/pkg/wire"
)

// State represents the lifecycle state of a job.
type State uint8

const (
	// StatePending means the job is accepted but not yet executing.
	StatePending State = 0

	// StateRunning means the job is executing on its devices.
	StateRunning State = 1

	// StateCompleted means the job finished and its artifacts exist.
	StateCompleted State = 2

	// StateFailed means execution faulted.
	StateFailed State = 3

	// StateCancelled means the job observed its cancellation signal.
	StateCancelled State = 4
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job is one measurement request executing against a set of reserved
// devices.
type Job struct {
	ID              string
	SessionID       string
	Operation       wire.JobOperation
	Targets         []wire.JobTarget
	DurationSeconds int
	CreatedAt       time.Time

	cancel func()

	mu           sync.Mutex
	state        State
	errText      string
	failStatus   wire.Status
	artifactIDs  []string
	calibrations []wire.CalibrationResult
}

// State returns the current job state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// transition moves the job to a new state. A terminal state is entered
// at most once; any transition attempted after that is refused.
func (j *Job) transition(to State) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = to
	return true
}

// Snapshot is a point-in-time copy of a job's externally visible
// state.
type Snapshot struct {
	ID           string
	SessionID    string
	Operation    wire.JobOperation
	State        State
	Error        string
	FailStatus   wire.Status
	ArtifactIDs  []string
	Calibrations []wire.CalibrationResult
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:           j.ID,
		SessionID:    j.SessionID,
		Operation:    j.Operation,
		State:        j.state,
		Error:        j.errText,
		FailStatus:   j.failStatus,
		ArtifactIDs:  append([]string(nil), j.artifactIDs...),
		Calibrations: append([]wire.CalibrationResult(nil), j.calibrations...),
	}
}
