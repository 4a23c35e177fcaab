package wire

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusUnknownDevice indicates the device id is not in the registry.
	StatusUnknownDevice Status = 1

	// StatusUnknownSession indicates the session id is invalid or closed.
	StatusUnknownSession Status = 2

	// StatusUnknownJob indicates the job id is not known to the runner.
	StatusUnknownJob Status = 3

	// StatusInvalidTransition indicates a device state transition that is
	// not in the allowed state graph.
	StatusInvalidTransition Status = 4

	// StatusConflict indicates reservation contention: at least one
	// requested device is not Idle.
	StatusConflict Status = 5

	// StatusNotReserved indicates a job was submitted without holding a
	// reservation on every target device.
	StatusNotReserved Status = 6

	// StatusLinkLost indicates physical device communication failed.
	StatusLinkLost Status = 7

	// StatusTimeout indicates the operation exceeded its bound.
	StatusTimeout Status = 8

	// StatusCancelled indicates the job was cancelled.
	StatusCancelled Status = 9

	// StatusInvalidParameter indicates a malformed request payload.
	StatusInvalidParameter Status = 10

	// StatusBusy indicates the server cannot take the request right now.
	StatusBusy Status = 11

	// StatusArtifactMissing indicates the requested artifact does not exist
	// (not yet produced, discarded, or purged).
	StatusArtifactMissing Status = 12

	// StatusInternal indicates a server fault with no more specific
	// mapping.
	StatusInternal Status = 13
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknownDevice:
		return "UNKNOWN_DEVICE"
	case StatusUnknownSession:
		return "UNKNOWN_SESSION"
	case StatusUnknownJob:
		return "UNKNOWN_JOB"
	case StatusInvalidTransition:
		return "INVALID_TRANSITION"
	case StatusConflict:
		return "CONFLICT"
	case StatusNotReserved:
		return "NOT_RESERVED"
	case StatusLinkLost:
		return "LINK_LOST"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusCancelled:
		return "CANCELLED"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusBusy:
		return "BUSY"
	case StatusArtifactMissing:
		return "ARTIFACT_MISSING"
	case StatusInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}
