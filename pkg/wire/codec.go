package wire

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for PiConnect messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for PiConnect messages.
var decMode cbor.DecMode

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Configure decoder to be lenient for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// MinRequestMessageID is the smallest message id a request may carry.
// IDs 1-15 are reserved so transport control messages (whose first key
// holds a small type value) can never be mistaken for requests.
const MinRequestMessageID uint32 = 16

// NewRequest builds a request with an encoded payload.
// A nil payload produces a request without key 3.
func NewRequest(messageID uint32, op Operation, payload any) (*Request, error) {
	req := &Request{MessageID: messageID, Operation: op}
	if payload != nil {
		data, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		req.Payload = data
	}
	return req, nil
}

// NewResponse builds a response with an encoded payload.
func NewResponse(messageID uint32, status Status, payload any) (*Response, error) {
	resp := &Response{MessageID: messageID, Status: status}
	if payload != nil {
		data, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		resp.Payload = data
	}
	return resp, nil
}

// EncodeRequest encodes a request message to CBOR bytes.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.MessageID < MinRequestMessageID {
		return nil, fmt.Errorf("invalid request: messageId %d is reserved", req.MessageID)
	}
	return Marshal(req)
}

// DecodeRequest decodes CBOR bytes into a request message.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response message to CBOR bytes.
func EncodeResponse(resp *Response) ([]byte, error) {
	return Marshal(resp)
}

// DecodeResponse decodes CBOR bytes into a response message.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// EncodeEvent encodes a job status event to CBOR bytes.
// Events carry messageId=0 which is added automatically.
func EncodeEvent(ev *Event) ([]byte, error) {
	wireMsg := struct {
		MessageID uint32 `cbor:"1,keyasint"`
		JobID     string `cbor:"2,keyasint"`
		JobStatus uint8  `cbor:"3,keyasint"`
		Detail    string `cbor:"4,keyasint,omitempty"`
		DeviceID  string `cbor:"5,keyasint,omitempty"`
	}{
		MessageID: EventMessageID,
		JobID:     ev.JobID,
		JobStatus: ev.JobStatus,
		Detail:    ev.Detail,
		DeviceID:  ev.DeviceID,
	}
	return Marshal(wireMsg)
}

// DecodeEvent decodes CBOR bytes into a job status event.
func DecodeEvent(data []byte) (*Event, error) {
	var wireMsg struct {
		MessageID uint32 `cbor:"1,keyasint"`
		JobID     string `cbor:"2,keyasint"`
		JobStatus uint8  `cbor:"3,keyasint"`
		Detail    string `cbor:"4,keyasint,omitempty"`
		DeviceID  string `cbor:"5,keyasint,omitempty"`
	}
	if err := Unmarshal(data, &wireMsg); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if wireMsg.MessageID != EventMessageID {
		return nil, fmt.Errorf("not an event message: messageId=%d", wireMsg.MessageID)
	}
	return &Event{
		JobID:     wireMsg.JobID,
		JobStatus: wireMsg.JobStatus,
		Detail:    wireMsg.Detail,
		DeviceID:  wireMsg.DeviceID,
	}, nil
}

// EncodeControlMessage encodes a control message (ping/pong/close) to CBOR bytes.
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	return Marshal(msg)
}

// DecodeControlMessage decodes CBOR bytes into a control message.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode control message: %w", err)
	}
	return &msg, nil
}

// MessageKind classifies a frame without fully decoding it.
type MessageKind int

const (
	KindUnknown MessageKind = iota

	// KindControl is a transport control message (ping/pong/close).
	KindControl

	// KindEvent is an unsolicited job status event.
	KindEvent

	// KindData is a request or response; which one depends on the
	// direction of the connection it arrived on.
	KindData
)

// PeekMessageKind examines CBOR data to classify the message.
//
// Classification relies on the first map key:
//   - 0:            event
//   - 1..15:        control message (type is 1-3; the range is reserved)
//   - >= 16:        request or response
func PeekMessageKind(data []byte) (MessageKind, error) {
	var peek struct {
		Field1 uint32 `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return KindUnknown, fmt.Errorf("failed to peek message: %w", err)
	}

	switch {
	case peek.Field1 == EventMessageID:
		return KindEvent, nil
	case peek.Field1 < MinRequestMessageID:
		return KindControl, nil
	default:
		return KindData, nil
	}
}
