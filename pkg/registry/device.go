package registry

// DeviceState represents the availability of a sensor device.
type DeviceState uint8

const (
	// StateIdle means the device is attached and unclaimed.
	StateIdle DeviceState = 0

	// StateReserved means a session holds the device.
	StateReserved DeviceState = 1

	// StateBusy means a job is executing on the device.
	StateBusy DeviceState = 2

	// StateOffline means the physical link is lost. The device stays in
	// the registry so job history keeps resolving its id.
	StateOffline DeviceState = 3
)

// String returns the state name.
func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReserved:
		return "RESERVED"
	case StateBusy:
		return "BUSY"
	case StateOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// CanTransitionTo reports whether the transition s -> to is in the
// allowed state graph: Idle<->Reserved<->Busy, Busy->Idle,
// any->Offline, Offline->Idle. A same-state transition is a no-op and
// always allowed.
func (s DeviceState) CanTransitionTo(to DeviceState) bool {
	if s == to {
		return true
	}
	if to == StateOffline {
		return true
	}
	switch s {
	case StateIdle:
		return to == StateReserved
	case StateReserved:
		return to == StateIdle || to == StateBusy
	case StateBusy:
		return to == StateReserved || to == StateIdle
	case StateOffline:
		return to == StateIdle
	default:
		return false
	}
}

// Device is a registry entry for one serial-attached sensor.
type Device struct {
	// ID identifies the device, derived from its device path.
	ID string

	// Path is the serial device path.
	Path string

	// Name is the device name reported during enumeration.
	Name string

	// Serial is the hardware serial number, "-" when unavailable.
	Serial string

	// Capability is the sensor type tag.
	Capability string

	// State is the current availability state.
	State DeviceState
}
