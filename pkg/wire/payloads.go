package wire

// Typed payloads for each protocol operation. Payloads travel as raw
// CBOR inside Request/Response; handlers decode them with Unmarshal.

// JobOperation identifies the measurement operation a job performs.
type JobOperation uint8

const (
	// JobCalibrate performs start-byte detection and offset correction.
	JobCalibrate JobOperation = 1

	// JobCapture records samples for a fixed duration.
	JobCapture JobOperation = 2
)

// String returns the job operation name.
func (o JobOperation) String() string {
	switch o {
	case JobCalibrate:
		return "CALIBRATE"
	case JobCapture:
		return "CAPTURE"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true for a known job operation.
func (o JobOperation) IsValid() bool {
	return o == JobCalibrate || o == JobCapture
}

// OpenSessionPayload identifies the connecting client.
type OpenSessionPayload struct {
	ClientID   string `cbor:"1,keyasint"`
	ClientName string `cbor:"2,keyasint,omitempty"`
}

// OpenSessionResponsePayload returns the assigned session id.
type OpenSessionResponsePayload struct {
	SessionID  string `cbor:"1,keyasint"`
	ServerName string `cbor:"2,keyasint,omitempty"`
}

// DeviceInfo describes one registry device on the wire.
type DeviceInfo struct {
	ID         string `cbor:"1,keyasint"`
	Path       string `cbor:"2,keyasint,omitempty"`
	Name       string `cbor:"3,keyasint,omitempty"`
	Serial     string `cbor:"4,keyasint,omitempty"`
	Capability string `cbor:"5,keyasint,omitempty"`
	State      uint8  `cbor:"6,keyasint"`
}

// ListDevicesResponsePayload returns a registry snapshot.
type ListDevicesResponsePayload struct {
	Devices []DeviceInfo `cbor:"1,keyasint,omitempty"`
}

// ReservePayload requests an all-or-nothing reservation of a device set.
type ReservePayload struct {
	SessionID string   `cbor:"1,keyasint"`
	DeviceIDs []string `cbor:"2,keyasint"`
}

// ReleasePayload releases previously reserved devices.
// Releasing devices the session does not hold is a no-op.
type ReleasePayload struct {
	SessionID string   `cbor:"1,keyasint"`
	DeviceIDs []string `cbor:"2,keyasint"`
}

// JobTarget selects one device for a job, with the calibration values
// a capture needs. Offset and StartByte are ignored for calibration jobs.
type JobTarget struct {
	DeviceID  string  `cbor:"1,keyasint"`
	Name      string  `cbor:"2,keyasint,omitempty"`
	Offset    float64 `cbor:"3,keyasint,omitempty"`
	StartByte uint8   `cbor:"4,keyasint,omitempty"`
}

// SubmitJobPayload schedules a measurement job on reserved devices.
type SubmitJobPayload struct {
	SessionID string       `cbor:"1,keyasint"`
	Operation JobOperation `cbor:"2,keyasint"`
	Targets   []JobTarget  `cbor:"3,keyasint"`

	// DurationSeconds is the capture length. Ignored for calibration.
	DurationSeconds uint32 `cbor:"4,keyasint,omitempty"`
}

// SubmitJobResponsePayload returns the assigned job id.
type SubmitJobResponsePayload struct {
	JobID string `cbor:"1,keyasint"`
}

// CancelJobPayload requests cooperative cancellation of a job.
type CancelJobPayload struct {
	SessionID string `cbor:"1,keyasint"`
	JobID     string `cbor:"2,keyasint"`
}

// JobStatusPayload queries the current state of a job.
type JobStatusPayload struct {
	SessionID string `cbor:"1,keyasint"`
	JobID     string `cbor:"2,keyasint"`
}

// CalibrationResult carries per-device calibration output.
type CalibrationResult struct {
	DeviceID  string  `cbor:"1,keyasint"`
	Offset    float64 `cbor:"2,keyasint"`
	StartByte uint8   `cbor:"3,keyasint"`
}

// JobStatusResponsePayload describes a job's current state.
type JobStatusResponsePayload struct {
	JobID        string              `cbor:"1,keyasint"`
	Status       uint8               `cbor:"2,keyasint"`
	ArtifactIDs  []string            `cbor:"3,keyasint,omitempty"`
	Calibrations []CalibrationResult `cbor:"4,keyasint,omitempty"`
	Error        string              `cbor:"5,keyasint,omitempty"`
}

// FetchArtifactPayload requests a chunk of a completed job's artifact.
// Clients advance Offset until EOF is set on the response.
type FetchArtifactPayload struct {
	SessionID  string `cbor:"1,keyasint"`
	ArtifactID string `cbor:"2,keyasint"`
	Offset     uint64 `cbor:"3,keyasint,omitempty"`
	MaxBytes   uint32 `cbor:"4,keyasint,omitempty"`
}

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	ID        string `cbor:"1,keyasint"`
	JobID     string `cbor:"2,keyasint"`
	DeviceID  string `cbor:"3,keyasint"`
	Filename  string `cbor:"4,keyasint"`
	Size      uint64 `cbor:"5,keyasint"`
	Digest    string `cbor:"6,keyasint,omitempty"`
	CreatedAt int64  `cbor:"7,keyasint"`
}

// FetchArtifactResponsePayload returns one chunk of artifact data.
// Info is populated on every chunk so a fetch can start at any offset.
type FetchArtifactResponsePayload struct {
	Info ArtifactInfo `cbor:"1,keyasint"`
	Data []byte       `cbor:"2,keyasint,omitempty"`
	EOF  bool         `cbor:"3,keyasint,omitempty"`
}

// CloseSessionPayload ends a session, releasing all devices it holds
// and cancelling its non-terminal jobs.
type CloseSessionPayload struct {
	SessionID string `cbor:"1,keyasint"`
}
