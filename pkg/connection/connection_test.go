package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    1 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
		Jitter:     0, // Deterministic
	})

	want := BackoffSequence()
	for i, expected := range want {
		got := b.Next()
		if got != expected {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, expected)
		}
	}

	// Stays at max
	if got := b.Next(); got != 60*time.Second {
		t.Errorf("delay after max = %v, want 60s", got)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    1 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
		Jitter:     0,
	})

	b.Next()
	b.Next()
	if b.Attempts() != 2 {
		t.Errorf("Attempts = %d, want 2", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 {
		t.Errorf("Attempts after reset = %d, want 0", b.Attempts())
	}
	if got := b.Next(); got != 1*time.Second {
		t.Errorf("delay after reset = %v, want 1s", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff()

	for i := 0; i < 10; i++ {
		base := b.Current()
		delay := b.Next()
		maxDelay := base + time.Duration(float64(base)*JitterFactor)
		if delay < base || delay > maxDelay {
			t.Errorf("delay %v outside [%v, %v]", delay, base, maxDelay)
		}
	}
}

func TestManagerConnect(t *testing.T) {
	var attempts atomic.Int32
	m := NewManager(func(ctx context.Context) error {
		attempts.Add(1)
		return nil
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !m.IsConnected() {
		t.Error("IsConnected = false after Connect")
	}
	if attempts.Load() != 1 {
		t.Errorf("connect attempts = %d, want 1", attempts.Load())
	}

	// Second connect reports already connected
	if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestManagerConnectFailure(t *testing.T) {
	wantErr := errors.New("refused")
	m := NewManager(func(ctx context.Context) error {
		return wantErr
	})

	if err := m.Connect(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("expected connect error, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State = %v, want DISCONNECTED", m.State())
	}
}

func TestManagerReconnectAfterLoss(t *testing.T) {
	var mu sync.Mutex
	fail := false
	connects := 0

	m := NewManager(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		connects++
		if fail {
			return errors.New("down")
		}
		return nil
	})
	defer m.Close()

	// Use a fast backoff for the test
	m.SetBackoff(NewBackoffWithConfig(BackoffConfig{
		Initial:    5 * time.Millisecond,
		Max:        20 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0,
	}))

	reconnected := make(chan struct{}, 1)
	m.OnConnected(func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})

	m.StartReconnectLoop()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	<-reconnected

	m.NotifyConnectionLost()
	if m.State() != StateReconnecting {
		t.Errorf("State = %v, want RECONNECTING", m.State())
	}

	select {
	case <-reconnected:
		// Reconnected
	case <-time.After(2 * time.Second):
		t.Fatal("did not reconnect")
	}

	if !m.IsConnected() {
		t.Error("IsConnected = false after reconnect")
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager(func(ctx context.Context) error { return nil })
	m.StartReconnectLoop()
	m.Close()

	if m.State() != StateClosed {
		t.Errorf("State = %v, want CLOSED", m.State())
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
