package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys for message encoding.
// All PiConnect messages use integer keys for efficiency.
const (
	KeyMessageID  = 1
	KeyOpOrStatus = 2 // Operation (request) or Status (response)
	KeyPayload    = 3

	// Event-specific keys (messageId=0 indicates an event)
	KeyJobID     = 2
	KeyJobStatus = 3
	KeyDetail    = 4
	KeyDeviceID  = 5
)

// MessageID 0 is reserved to indicate an event message.
const EventMessageID uint32 = 0

// Operation identifies a session/job protocol request.
type Operation uint8

const (
	OpOpenSession Operation = iota + 1
	OpListDevices
	OpReserve
	OpRelease
	OpSubmitJob
	OpCancelJob
	OpJobStatus
	OpFetchArtifact
	OpCloseSession
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpOpenSession:
		return "OPEN_SESSION"
	case OpListDevices:
		return "LIST_DEVICES"
	case OpReserve:
		return "RESERVE"
	case OpRelease:
		return "RELEASE"
	case OpSubmitJob:
		return "SUBMIT_JOB"
	case OpCancelJob:
		return "CANCEL_JOB"
	case OpJobStatus:
		return "JOB_STATUS"
	case OpFetchArtifact:
		return "FETCH_ARTIFACT"
	case OpCloseSession:
		return "CLOSE_SESSION"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true for a known operation.
func (o Operation) IsValid() bool {
	return o >= OpOpenSession && o <= OpCloseSession
}

// Request represents a client-to-server request.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32, >= 1
//	  2: operation,   // uint8
//	  3: payload      // operation-specific, raw CBOR
//	}
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Operation Operation       `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == EventMessageID {
		return fmt.Errorf("messageId 0 is reserved for events")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	return nil
}

// Response represents a server-to-client response.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32: matches request
//	  2: status,      // uint8: 0=success, or error code
//	  3: payload      // operation-specific response data (if success)
//	}
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// Event represents a server-to-client job status notification.
// Events are unsolicited; messageId 0 marks them on the wire.
//
// CBOR encoding:
//
//	{
//	  1: 0,          // messageId 0 = event
//	  2: jobId,      // string
//	  3: jobStatus,  // uint8
//	  4: detail,     // string, optional (error text, progress note)
//	  5: deviceId    // string, optional (device the detail refers to)
//	}
type Event struct {
	JobID     string `cbor:"2,keyasint"`
	JobStatus uint8  `cbor:"3,keyasint"`
	Detail    string `cbor:"4,keyasint,omitempty"`
	DeviceID  string `cbor:"5,keyasint,omitempty"`
}

// ControlMessage represents a transport-level control message.
// These are separate from the request/response/event model.
type ControlMessage struct {
	Type     ControlMessageType `cbor:"1,keyasint"`
	Sequence uint32             `cbor:"2,keyasint,omitempty"`
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check connection liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose initiates graceful connection close.
	ControlClose ControlMessageType = 3
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	default:
		return "unknown"
	}
}

// ErrorPayload carries additional error information in a response.
//
// CBOR encoding:
//
//	{
//	  1: message  // string: human-readable error message
//	}
type ErrorPayload struct {
	Message string `cbor:"1,keyasint,omitempty"`
}
