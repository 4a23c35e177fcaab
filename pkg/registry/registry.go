package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/piconnect/piconnect-go/pkg/link"
)

// CapabilityAccelerometer is the capability tag of the supported sensors.
const CapabilityAccelerometer = "accelerometer"

// Registry errors.
var (
	// ErrUnknownDevice indicates the device id is not in the registry.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrInvalidTransition indicates a state transition outside the
	// allowed state graph.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrWrongState indicates a device was not in the state a
	// conditional transition required.
	ErrWrongState = errors.New("device not in required state")
)

// Change describes one observed device state transition.
type Change struct {
	DeviceID string
	OldState DeviceState
	NewState DeviceState

	// Reason is a short tag for the trigger (e.g. "scan", "reserve").
	Reason string
}

// ChangeHandler receives device state change notifications. Handlers
// are called outside registry locks and must not block for long.
type ChangeHandler func(Change)

// entry pairs a device with its own lock. State reads and mutations
// for a device go through this lock only, so sessions touching
// disjoint device sets never contend.
type entry struct {
	mu  sync.Mutex
	dev Device
}

// Registry tracks attached sensor devices and their availability.
type Registry struct {
	enumerator link.Enumerator
	logger     *slog.Logger

	// mu guards the devices map, never device state.
	mu      sync.RWMutex
	devices map[string]*entry

	handlersMu sync.Mutex
	handlers   []ChangeHandler

	scanning atomic.Bool
}

// NewRegistry creates a registry over the given device enumerator.
func NewRegistry(enumerator link.Enumerator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		enumerator: enumerator,
		logger:     logger,
		devices:    make(map[string]*entry),
	}
}

// OnChange registers a handler for device state changes.
func (r *Registry) OnChange(h ChangeHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers = append(r.handlers, h)
}

func (r *Registry) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	r.handlersMu.Lock()
	handlers := make([]ChangeHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.handlersMu.Unlock()

	for _, c := range changes {
		r.logger.Info("device state changed",
			"device_id", c.DeviceID,
			"old_state", c.OldState.String(),
			"new_state", c.NewState.String(),
			"reason", c.Reason)
		for _, h := range handlers {
			h(c)
		}
	}
}

// Scan re-enumerates attached devices. New devices join as Idle,
// previously known devices that are absent become Offline, and
// Offline devices found again return to Idle. Devices are never
// removed, so job history references keep resolving.
func (r *Registry) Scan() ([]Device, error) {
	r.scanning.Store(true)
	defer r.scanning.Store(false)

	descs, err := r.enumerator.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("device scan failed: %w", err)
	}

	var changes []Change
	present := make(map[string]bool, len(descs))

	r.mu.Lock()
	for _, d := range descs {
		present[d.Path] = true
		e, ok := r.devices[d.Path]
		if !ok {
			r.devices[d.Path] = &entry{dev: Device{
				ID:         d.Path,
				Path:       d.Path,
				Name:       d.Name,
				Serial:     d.Serial,
				Capability: CapabilityAccelerometer,
				State:      StateIdle,
			}}
			r.logger.Info("device attached", "device_id", d.Path, "name", d.Name)
			continue
		}
		e.mu.Lock()
		e.dev.Name = d.Name
		e.dev.Serial = d.Serial
		if e.dev.State == StateOffline {
			changes = append(changes, Change{
				DeviceID: e.dev.ID,
				OldState: StateOffline,
				NewState: StateIdle,
				Reason:   "scan",
			})
			e.dev.State = StateIdle
		}
		e.mu.Unlock()
	}

	for id, e := range r.devices {
		if present[id] {
			continue
		}
		e.mu.Lock()
		if e.dev.State != StateOffline {
			changes = append(changes, Change{
				DeviceID: id,
				OldState: e.dev.State,
				NewState: StateOffline,
				Reason:   "scan",
			})
			e.dev.State = StateOffline
		}
		e.mu.Unlock()
	}
	r.mu.Unlock()

	r.notify(changes)
	return r.List(), nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return e, nil
}

// Get returns a snapshot of one device.
func (r *Registry) Get(id string) (Device, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Device{}, err
	}
	e.mu.Lock()
	dev := e.dev
	e.mu.Unlock()
	return dev, nil
}

// List returns snapshots of all devices sorted by id.
func (r *Registry) List() []Device {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	devices := make([]Device, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		devices = append(devices, e.dev)
		e.mu.Unlock()
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// SetState transitions one device, failing with ErrInvalidTransition
// when the transition is outside the allowed state graph. A same-state
// transition is a no-op.
func (r *Registry) SetState(id string, to DeviceState, reason string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.dev.State
	if !old.CanTransitionTo(to) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, old, to)
	}
	e.dev.State = to
	e.mu.Unlock()

	if old != to {
		r.notify([]Change{{DeviceID: id, OldState: old, NewState: to, Reason: reason}})
	}
	return nil
}

// CompareAndSetAll transitions every listed device from one state to
// another atomically: either all devices were in the required state
// and all transition, or none change. Per-device locks are taken in
// sorted id order, so concurrent multi-device transitions cannot
// deadlock or interleave partial effects.
func (r *Registry) CompareAndSetAll(ids []string, from, to DeviceState, reason string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	entries := make([]*entry, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue // Duplicate id in the request
		}
		e, err := r.lookup(id)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	locked := make([]*entry, 0, len(entries))
	unlock := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}

	for _, e := range entries {
		e.mu.Lock()
		locked = append(locked, e)
		if e.dev.State != from {
			id, state := e.dev.ID, e.dev.State
			unlock()
			return fmt.Errorf("%w: %s is %s, want %s", ErrWrongState, id, state, from)
		}
	}

	changes := make([]Change, 0, len(entries))
	for _, e := range entries {
		e.dev.State = to
		changes = append(changes, Change{
			DeviceID: e.dev.ID,
			OldState: from,
			NewState: to,
			Reason:   reason,
		})
	}
	unlock()

	r.notify(changes)
	return nil
}

// Summary is a registry snapshot for discovery advertising.
type Summary struct {
	DeviceCount  int
	Capabilities []string

	// Degraded is set when the summary was taken mid-rescan and may be
	// stale.
	Degraded bool
}

// Snapshot returns the registry summary without blocking on an
// in-progress scan. Offline devices are excluded from the count.
func (r *Registry) Snapshot() Summary {
	degraded := r.scanning.Load()

	caps := make(map[string]bool)
	count := 0
	for _, dev := range r.List() {
		if dev.State == StateOffline {
			continue
		}
		count++
		caps[dev.Capability] = true
	}

	capabilities := make([]string, 0, len(caps))
	for c := range caps {
		capabilities = append(capabilities, c)
	}
	sort.Strings(capabilities)

	return Summary{DeviceCount: count, Capabilities: capabilities, Degraded: degraded}
}
