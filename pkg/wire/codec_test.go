package wire

import (
	"bytes"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		payload any
	}{
		{
			name: "open session",
			op:   OpOpenSession,
			payload: OpenSessionPayload{
				ClientID:   "client-1",
				ClientName: "bench laptop",
			},
		},
		{
			name:    "list devices without payload",
			op:      OpListDevices,
			payload: nil,
		},
		{
			name: "reserve",
			op:   OpReserve,
			payload: ReservePayload{
				SessionID: "s-1",
				DeviceIDs: []string{"dev-a", "dev-b"},
			},
		},
		{
			name: "submit capture job",
			op:   OpSubmitJob,
			payload: SubmitJobPayload{
				SessionID: "s-1",
				Operation: JobCapture,
				Targets: []JobTarget{
					{DeviceID: "dev-a", Name: "front-axle", Offset: 524.61, StartByte: 0x14},
				},
				DurationSeconds: 30,
			},
		},
		{
			name: "fetch artifact chunk",
			op:   OpFetchArtifact,
			payload: FetchArtifactPayload{
				SessionID:  "s-1",
				ArtifactID: "a-1",
				Offset:     65536,
				MaxBytes:   32768,
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(MinRequestMessageID+uint32(i), tt.op, tt.payload)
			if err != nil {
				t.Fatalf("NewRequest: %v", err)
			}

			data, err := EncodeRequest(req)
			if err != nil {
				t.Fatalf("EncodeRequest: %v", err)
			}

			decoded, err := DecodeRequest(data)
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if decoded.MessageID != req.MessageID {
				t.Errorf("MessageID = %d, want %d", decoded.MessageID, req.MessageID)
			}
			if decoded.Operation != tt.op {
				t.Errorf("Operation = %v, want %v", decoded.Operation, tt.op)
			}
			if tt.payload == nil && decoded.Payload != nil {
				t.Errorf("Payload = %x, want absent", decoded.Payload)
			}
		})
	}
}

func TestRequestPayloadDecode(t *testing.T) {
	req, err := NewRequest(100, OpSubmitJob, SubmitJobPayload{
		SessionID:       "s-9",
		Operation:       JobCalibrate,
		Targets:         []JobTarget{{DeviceID: "dev-c"}},
		DurationSeconds: 0,
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	decoded, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}

	var p SubmitJobPayload
	if err := Unmarshal(decoded.Payload, &p); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if p.SessionID != "s-9" {
		t.Errorf("SessionID = %q, want s-9", p.SessionID)
	}
	if p.Operation != JobCalibrate {
		t.Errorf("Operation = %v, want JobCalibrate", p.Operation)
	}
	if len(p.Targets) != 1 || p.Targets[0].DeviceID != "dev-c" {
		t.Errorf("Targets = %+v, want one target dev-c", p.Targets)
	}
}

func TestRequestValidation(t *testing.T) {
	// messageId 0 is reserved for events
	req := &Request{MessageID: 0, Operation: OpReserve}
	if _, err := EncodeRequest(req); err == nil {
		t.Error("EncodeRequest with messageId 0 should fail")
	}

	// messageIds 1-15 are reserved for control messages
	req = &Request{MessageID: 3, Operation: OpReserve}
	if _, err := EncodeRequest(req); err == nil {
		t.Error("EncodeRequest with reserved messageId should fail")
	}

	// unknown operation
	req = &Request{MessageID: 20, Operation: Operation(200)}
	if _, err := EncodeRequest(req); err == nil {
		t.Error("EncodeRequest with invalid operation should fail")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp, err := NewResponse(42, StatusSuccess, OpenSessionResponsePayload{
		SessionID:  "s-42",
		ServerName: "pi-bench-01",
	})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}

	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}

	if decoded.MessageID != 42 {
		t.Errorf("MessageID = %d, want 42", decoded.MessageID)
	}
	if !decoded.IsSuccess() {
		t.Errorf("Status = %v, want success", decoded.Status)
	}

	var p OpenSessionResponsePayload
	if err := Unmarshal(decoded.Payload, &p); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if p.SessionID != "s-42" {
		t.Errorf("SessionID = %q, want s-42", p.SessionID)
	}
}

func TestErrorResponse(t *testing.T) {
	resp, err := NewResponse(50, StatusConflict, ErrorPayload{Message: "device dev-b held by another session"})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}

	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}

	if decoded.Status != StatusConflict {
		t.Errorf("Status = %v, want CONFLICT", decoded.Status)
	}
	var ep ErrorPayload
	if err := Unmarshal(decoded.Payload, &ep); err != nil {
		t.Fatalf("Unmarshal error payload: %v", err)
	}
	if ep.Message == "" {
		t.Error("error message should survive the round trip")
	}
}

func TestEventRoundTrip(t *testing.T) {
	ev := &Event{
		JobID:     "job-7",
		JobStatus: 2,
		Detail:    "capture started",
		DeviceID:  "dev-a",
	}

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if decoded.JobID != ev.JobID || decoded.JobStatus != ev.JobStatus ||
		decoded.Detail != ev.Detail || decoded.DeviceID != ev.DeviceID {
		t.Errorf("decoded event = %+v, want %+v", decoded, ev)
	}
}

func TestDecodeEventRejectsNonEvent(t *testing.T) {
	data, err := EncodeResponse(&Response{MessageID: 99, Status: StatusSuccess})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if _, err := DecodeEvent(data); err == nil {
		t.Error("DecodeEvent should reject a response message")
	}
}

func TestControlMessageRoundTrip(t *testing.T) {
	for _, typ := range []ControlMessageType{ControlPing, ControlPong, ControlClose} {
		msg := &ControlMessage{Type: typ, Sequence: 7}
		data, err := EncodeControlMessage(msg)
		if err != nil {
			t.Fatalf("EncodeControlMessage(%v): %v", typ, err)
		}
		decoded, err := DecodeControlMessage(data)
		if err != nil {
			t.Fatalf("DecodeControlMessage(%v): %v", typ, err)
		}
		if decoded.Type != typ || decoded.Sequence != 7 {
			t.Errorf("decoded = %+v, want type %v seq 7", decoded, typ)
		}
	}
}

func TestPeekMessageKind(t *testing.T) {
	eventData, _ := EncodeEvent(&Event{JobID: "j", JobStatus: 1})
	ctrlData, _ := EncodeControlMessage(&ControlMessage{Type: ControlPing, Sequence: 1})
	req, _ := NewRequest(MinRequestMessageID, OpListDevices, nil)
	reqData, _ := EncodeRequest(req)
	respData, _ := EncodeResponse(&Response{MessageID: 1234, Status: StatusSuccess})

	tests := []struct {
		name string
		data []byte
		want MessageKind
	}{
		{"event", eventData, KindEvent},
		{"control ping", ctrlData, KindControl},
		{"request", reqData, KindData},
		{"response", respData, KindData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := PeekMessageKind(tt.data)
			if err != nil {
				t.Fatalf("PeekMessageKind: %v", err)
			}
			if kind != tt.want {
				t.Errorf("kind = %v, want %v", kind, tt.want)
			}
		})
	}
}

func TestDeterministicEncoding(t *testing.T) {
	req, err := NewRequest(77, OpReserve, ReservePayload{
		SessionID: "s-1",
		DeviceIDs: []string{"dev-a", "dev-b", "dev-c"},
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	a, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	b, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("canonical encoding should be byte-identical across runs")
	}
}

func TestStatusStrings(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusSuccess, "SUCCESS"},
		{StatusUnknownDevice, "UNKNOWN_DEVICE"},
		{StatusConflict, "CONFLICT"},
		{StatusNotReserved, "NOT_RESERVED"},
		{StatusLinkLost, "LINK_LOST"},
		{StatusCancelled, "CANCELLED"},
		{Status(250), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
	if StatusSuccess.IsError() {
		t.Error("StatusSuccess.IsError() = true")
	}
	if !StatusConflict.IsError() {
		t.Error("StatusConflict.IsError() = false")
	}
}
