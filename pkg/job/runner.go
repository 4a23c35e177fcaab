package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piconnect/piconnect-go/pkg/artifact"
	"github.com/piconnect/piconnect-go/pkg/link"
	"github.com/piconnect/piconnect-go/pkg/measure"
	"github.com/piconnect/piconnect-go/pkg/registry"
	"github.com/piconnect/piconnect-go/pkg/session"
	"github.com/piconnect/piconnect-go/pkg/wire"
)

// hardTimeoutGrace is added to a job's expected duration as the hard
// timeout fallback for a blocked hardware read.
const hardTimeoutGrace = 30 * time.Second

// Runner errors.
var (
	// ErrUnknownJob indicates the job id is not known to the runner.
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidJob indicates a malformed job request.
	ErrInvalidJob = errors.New("invalid job request")
)

// Event is a job status change notification. The service layer pushes
// these to the owning client as protocol events.
type Event struct {
	JobID     string
	SessionID string
	State     State
	Detail    string
}

// EventHandler receives job events. Handlers run on the job goroutine
// and must not block.
type EventHandler func(Event)

// Runner schedules and executes measurement jobs.
type Runner struct {
	registry *registry.Registry
	sessions *session.Manager
	store    *artifact.Store
	opener   link.Opener
	logger   *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	handlersMu sync.Mutex
	onEvent    []EventHandler
}

// NewRunner creates a job runner. It registers with the session
// manager so a closing session cancels its non-terminal jobs.
func NewRunner(reg *registry.Registry, sessions *session.Manager, store *artifact.Store, opener link.Opener, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		registry: reg,
		sessions: sessions,
		store:    store,
		opener:   opener,
		logger:   logger,
		jobs:     make(map[string]*Job),
	}
	sessions.OnClose(r.cancelSessionJobs)
	return r
}

// OnEvent registers a handler for job status events.
func (r *Runner) OnEvent(h EventHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.onEvent = append(r.onEvent, h)
}

func (r *Runner) emit(j *Job, state State, detail string) {
	r.logger.Info("job state changed",
		"job_id", j.ID, "session_id", j.SessionID,
		"state", state.String(), "detail", detail)

	r.handlersMu.Lock()
	handlers := make([]EventHandler, len(r.onEvent))
	copy(handlers, r.onEvent)
	r.handlersMu.Unlock()
	for _, h := range handlers {
		h(Event{JobID: j.ID, SessionID: j.SessionID, State: state, Detail: detail})
	}
}

// Submit validates the reservation, takes the target devices Busy, and
// schedules execution. Fails with session.ErrNotReserved when the
// session does not hold every target device.
func (r *Runner) Submit(sessionID string, op wire.JobOperation, targets []wire.JobTarget, durationSeconds int) (*Job, error) {
	if !op.IsValid() {
		return nil, fmt.Errorf("%w: unknown operation %d", ErrInvalidJob, op)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no target devices", ErrInvalidJob)
	}
	if op == wire.JobCapture && durationSeconds <= 0 {
		return nil, fmt.Errorf("%w: capture needs a positive duration", ErrInvalidJob)
	}

	deviceIDs := make([]string, len(targets))
	for i, t := range targets {
		deviceIDs[i] = t.DeviceID
	}

	if err := r.sessions.Holds(sessionID, deviceIDs); err != nil {
		return nil, err
	}
	if err := r.registry.CompareAndSetAll(deviceIDs, registry.StateReserved, registry.StateBusy, "job start"); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		Operation:       op,
		Targets:         targets,
		DurationSeconds: durationSeconds,
		CreatedAt:       time.Now(),
		cancel:          cancel,
	}

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	r.emit(j, StatePending, "")
	go r.run(ctx, j)
	return j, nil
}

// Get returns a snapshot of one job.
func (r *Runner) Get(jobID string) (Snapshot, error) {
	r.mu.RLock()
	j, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return j.Snapshot(), nil
}

// Cancel requests cooperative cancellation. Cancelling a terminal job
// is a no-op; the job transitions to Cancelled once execution observes
// the signal, never mid-write of an artifact.
func (r *Runner) Cancel(jobID string) error {
	r.mu.RLock()
	j, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if j.State().IsTerminal() {
		return nil
	}
	j.cancel()
	return nil
}

// cancelSessionJobs cancels every non-terminal job of a closing
// session.
func (r *Runner) cancelSessionJobs(sessionID string) {
	r.mu.RLock()
	var cancels []func()
	for _, j := range r.jobs {
		if j.SessionID == sessionID && !j.State().IsTerminal() {
			cancels = append(cancels, j.cancel)
		}
	}
	r.mu.RUnlock()
	for _, c := range cancels {
		c()
	}
}

// run executes the job and commits the terminal transition.
func (r *Runner) run(ctx context.Context, j *Job) {
	// Cancelled before execution started
	if ctx.Err() != nil {
		r.settle(j, StateCancelled, wire.StatusCancelled, "cancelled before start", nil)
		return
	}

	if !j.transition(StateRunning) {
		return
	}
	r.emit(j, StateRunning, "")

	timeout := hardTimeoutGrace + time.Duration(j.DurationSeconds)*time.Second
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	lostDevices := make(map[string]bool)
	err := r.execute(ctx, j, lostDevices)

	switch {
	case err == nil:
		r.settle(j, StateCompleted, wire.StatusSuccess, "", lostDevices)
	case errors.Is(err, context.Canceled):
		r.settle(j, StateCancelled, wire.StatusCancelled, "cancelled", lostDevices)
	case errors.Is(err, context.DeadlineExceeded):
		r.settle(j, StateFailed, wire.StatusTimeout, "hard timeout exceeded", lostDevices)
	case errors.Is(err, link.ErrLinkLost):
		r.settle(j, StateFailed, wire.StatusLinkLost, err.Error(), lostDevices)
	default:
		r.settle(j, StateFailed, wire.StatusLinkLost, err.Error(), lostDevices)
	}
}

// execute runs the measurement on each target in turn. Devices that
// lose their link are recorded in lostDevices.
func (r *Runner) execute(ctx context.Context, j *Job, lostDevices map[string]bool) error {
	for _, target := range j.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runTarget(ctx, j, target); err != nil {
			if errors.Is(err, link.ErrLinkLost) {
				lostDevices[target.DeviceID] = true
			}
			return fmt.Errorf("device %s: %w", target.DeviceID, err)
		}
	}
	return nil
}

func (r *Runner) runTarget(ctx context.Context, j *Job, target wire.JobTarget) error {
	l, err := r.opener.Open(target.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", link.ErrLinkLost, err)
	}
	defer l.Close()

	switch j.Operation {
	case wire.JobCalibrate:
		cal, err := measure.Calibrate(ctx, l)
		if err != nil {
			return err
		}
		j.mu.Lock()
		j.calibrations = append(j.calibrations, wire.CalibrationResult{
			DeviceID:  target.DeviceID,
			Offset:    cal.Offset,
			StartByte: cal.StartByte,
		})
		j.mu.Unlock()
		return nil

	case wire.JobCapture:
		rec, err := measure.Capture(ctx, l, j.DurationSeconds)
		if err != nil {
			return err
		}
		// The recording is complete; the artifact write is atomic and
		// not interruptible by cancellation
		report := measure.BuildReport(rec, measure.Calibration{
			StartByte: target.StartByte,
			Offset:    target.Offset,
		})
		name := target.Name
		if name == "" {
			name = path.Base(target.DeviceID)
		}
		meta, err := r.store.Write(j.ID, target.DeviceID,
			measure.ReportFilename(name, rec.StartTime),
			func(w io.Writer) error { return report.Write(w) })
		if err != nil {
			return err
		}
		j.mu.Lock()
		j.artifactIDs = append(j.artifactIDs, meta.ID)
		j.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("%w: operation %d", ErrInvalidJob, j.Operation)
	}
}

// settle commits the terminal job transition and returns the devices
// to their post-job states: lost devices go Offline, the rest return
// to Reserved while their session still holds them, Idle otherwise.
func (r *Runner) settle(j *Job, state State, status wire.Status, detail string, lostDevices map[string]bool) {
	if j.State().IsTerminal() {
		return
	}

	for _, target := range j.Targets {
		id := target.DeviceID
		var to registry.DeviceState
		var reason string
		switch {
		case lostDevices != nil && lostDevices[id]:
			to, reason = registry.StateOffline, "link lost"
		case r.sessions.Holds(j.SessionID, []string{id}) == nil:
			to, reason = registry.StateReserved, "job done"
		default:
			to, reason = registry.StateIdle, "job done, session gone"
		}
		if err := r.registry.SetState(id, to, reason); err != nil {
			r.logger.Warn("post-job device transition failed",
				"job_id", j.ID, "device_id", id, "error", err)
		}
	}

	j.mu.Lock()
	j.state = state
	j.errText = detail
	j.failStatus = status
	j.mu.Unlock()

	r.emit(j, state, detail)
}
