package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/piconnect/piconnect-go/pkg/log"
	"github.com/piconnect/piconnect-go/pkg/wire"
)

func TestFormatFrameEvent(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	event := log.Event{
		Timestamp:    ts,
		ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size: 128,
			Data: []byte{0xa1, 0x01, 0x02, 0x03},
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "2026-01-28T10:15:32.123456Z") {
		t.Errorf("expected microsecond timestamp, got: %s", output)
	}
	if !strings.Contains(output, "[conn:abc12345]") {
		t.Errorf("expected shortened connection ID, got: %s", output)
	}
	if !strings.Contains(output, "OUT") {
		t.Errorf("expected OUT direction, got: %s", output)
	}
	if !strings.Contains(output, "TRANSPORT") {
		t.Errorf("expected TRANSPORT layer, got: %s", output)
	}
	if !strings.Contains(output, "128 bytes") {
		t.Errorf("expected frame size, got: %s", output)
	}
	if !strings.Contains(output, "a1010203") {
		t.Errorf("expected hex frame data, got: %s", output)
	}
}

func TestFormatMessageEventRequest(t *testing.T) {
	op := wire.OpSubmitJob
	event := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-1",
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		SessionID:    "sess-aaaa-bbbb",
		Message: &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			MessageID: 42,
			Operation: &op,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "REQUEST") {
		t.Errorf("expected REQUEST label, got: %s", output)
	}
	if !strings.Contains(output, "MessageID: 42") {
		t.Errorf("expected message id, got: %s", output)
	}
	if !strings.Contains(output, "SUBMIT_JOB") {
		t.Errorf("expected operation name, got: %s", output)
	}
	if !strings.Contains(output, "Session: sess-aaa") {
		t.Errorf("expected shortened session id, got: %s", output)
	}
}

func TestFormatMessageEventResponse(t *testing.T) {
	status := wire.StatusConflict
	processing := 1500 * time.Microsecond
	event := log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:           log.MessageTypeResponse,
			MessageID:      42,
			Status:         &status,
			ProcessingTime: &processing,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "RESPONSE") {
		t.Errorf("expected RESPONSE label, got: %s", output)
	}
	if !strings.Contains(output, "CONFLICT") {
		t.Errorf("expected status name, got: %s", output)
	}
	if !strings.Contains(output, "1.500ms") {
		t.Errorf("expected processing duration, got: %s", output)
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	event := log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		DeviceID:  "/dev/ttyUSB0",
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			OldState: "IDLE",
			NewState: "RESERVED",
			Reason:   "reserve",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "Entity: DEVICE") {
		t.Errorf("expected entity, got: %s", output)
	}
	if !strings.Contains(output, "IDLE -> RESERVED") {
		t.Errorf("expected transition, got: %s", output)
	}
	if !strings.Contains(output, "Reason: reserve") {
		t.Errorf("expected reason, got: %s", output)
	}
	if !strings.Contains(output, "Device: /dev/ttyUSB0") {
		t.Errorf("expected device id, got: %s", output)
	}
}

func TestFormatControlEventUsesCtrlHeader(t *testing.T) {
	event := log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerTransport,
		Category:   log.CategoryControl,
		ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgPong},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "CTRL PONG") {
		t.Errorf("expected CTRL PONG header, got: %s", output)
	}
}

func TestRunViewAppliesFilter(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerTransport, Category: log.CategoryMessage, Frame: &log.FrameEvent{Size: 1}},
		{Timestamp: ts, Layer: log.LayerWire, Category: log.CategoryMessage, Message: &log.MessageEvent{Type: log.MessageTypeRequest}},
	}
	path := createTestLogFile(t, events)

	layer := log.LayerWire
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if strings.Contains(output, "Frame") {
		t.Errorf("transport event not filtered out: %s", output)
	}
	if !strings.Contains(output, "REQUEST") {
		t.Errorf("wire event missing: %s", output)
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("Wire"); err != nil || l != log.LayerWire {
		t.Errorf("ParseLayerFlag = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("bogus"); err == nil {
		t.Error("expected error for bogus layer")
	}
	if d, err := ParseDirectionFlag("IN"); err != nil || d != log.DirectionIn {
		t.Errorf("ParseDirectionFlag = %v, %v", d, err)
	}
	if c, err := ParseCategoryFlag("state"); err != nil || c != log.CategoryState {
		t.Errorf("ParseCategoryFlag = %v, %v", c, err)
	}
}
