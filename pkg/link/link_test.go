package link

import (
	"errors"
	"io"
	"testing"
)

func TestSimLinkStream(t *testing.T) {
	l := NewSimLink("/dev/sim0", SimProfile{StartByte: 0x1F})

	buf := make([]byte, 8)
	n, err := io.ReadFull(l, buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 8 {
		t.Fatalf("Read returned %d bytes, want 8", n)
	}

	// Even positions carry the start byte, odd positions count up
	want := []byte{0x1F, 0x00, 0x1F, 0x01, 0x1F, 0x02, 0x1F, 0x03}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("byte %d = 0x%02X, want 0x%02X", i, buf[i], want[i])
		}
	}
}

func TestSimLinkPhase(t *testing.T) {
	l := NewSimLink("/dev/sim0", SimProfile{StartByte: 0x1F, Phase: 1})

	buf := make([]byte, 3)
	if _, err := io.ReadFull(l, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	// Opened mid-sample: first byte is a low byte
	if buf[0] != 0x00 || buf[1] != 0x1F || buf[2] != 0x01 {
		t.Errorf("stream = % 02X, want 00 1F 01", buf)
	}
}

func TestSimLinkResetInputRealigns(t *testing.T) {
	l := NewSimLink("/dev/sim0", SimProfile{StartByte: 0x1F, Phase: 1})

	if err := l.ResetInput(); err != nil {
		t.Fatalf("ResetInput failed: %v", err)
	}

	buf := make([]byte, 2)
	if _, err := io.ReadFull(l, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if buf[0] != 0x1F {
		t.Errorf("first byte after reset = 0x%02X, want start byte 0x1F", buf[0])
	}
}

func TestSimLinkFailAfter(t *testing.T) {
	l := NewSimLink("/dev/sim0", SimProfile{StartByte: 0x1F, FailAfter: 4})

	buf := make([]byte, 4)
	if _, err := io.ReadFull(l, buf); err != nil {
		t.Fatalf("Read before failure failed: %v", err)
	}

	_, err := l.Read(buf)
	if !errors.Is(err, ErrLinkLost) {
		t.Errorf("expected ErrLinkLost, got %v", err)
	}
}

func TestSimLinkPartialReadBeforeFailure(t *testing.T) {
	l := NewSimLink("/dev/sim0", SimProfile{StartByte: 0x1F, FailAfter: 3})

	buf := make([]byte, 8)
	n, err := l.Read(buf)
	if err != nil {
		t.Fatalf("partial read failed: %v", err)
	}
	if n != 3 {
		t.Errorf("partial read returned %d bytes, want 3", n)
	}

	if _, err := l.Read(buf); !errors.Is(err, ErrLinkLost) {
		t.Errorf("expected ErrLinkLost, got %v", err)
	}
}

func TestSimLinkClose(t *testing.T) {
	l := NewSimLink("/dev/sim0", SimProfile{StartByte: 0x1F})

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := l.Read(make([]byte, 2)); !errors.Is(err, ErrLinkClosed) {
		t.Errorf("expected ErrLinkClosed, got %v", err)
	}
	// Close is idempotent
	if err := l.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestSimOpener(t *testing.T) {
	o := NewSimOpener()
	o.AddDevice("/dev/sim1", SimProfile{Name: "Bench A", Serial: "A123", StartByte: 0x1F})
	o.AddDevice("/dev/sim0", SimProfile{StartByte: 0x20})

	devices, err := o.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Enumerate returned %d devices, want 2", len(devices))
	}

	// Sorted by path; defaults applied
	if devices[0].Path != "/dev/sim0" {
		t.Errorf("devices[0].Path = %q, want /dev/sim0", devices[0].Path)
	}
	if devices[0].Serial != "-" {
		t.Errorf("devices[0].Serial = %q, want -", devices[0].Serial)
	}
	if devices[1].Name != "Bench A" {
		t.Errorf("devices[1].Name = %q, want Bench A", devices[1].Name)
	}

	l, err := o.Open("/dev/sim1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()
	if l.Path() != "/dev/sim1" {
		t.Errorf("Path = %q, want /dev/sim1", l.Path())
	}

	if _, err := o.Open("/dev/missing"); err == nil {
		t.Error("expected error opening unknown device")
	}
}

func TestSimOpenerRemoveDevice(t *testing.T) {
	o := NewSimOpener()
	o.AddDevice("/dev/sim0", SimProfile{StartByte: 0x1F})
	o.RemoveDevice("/dev/sim0")

	devices, err := o.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("Enumerate returned %d devices, want 0", len(devices))
	}
}
