package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeepAliveSendsPings(t *testing.T) {
	var mu sync.Mutex
	var pings []uint32

	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 100,
	}, func(seq uint32) error {
		mu.Lock()
		pings = append(pings, seq)
		mu.Unlock()
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ka.Start(ctx)
	defer ka.Stop()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	count := len(pings)
	mu.Unlock()

	if count < 2 {
		t.Errorf("expected at least 2 pings, got %d", count)
	}
}

func TestKeepAliveTimeoutAfterMissedPongs(t *testing.T) {
	timeoutCh := make(chan struct{}, 1)

	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}, func(seq uint32) error {
		return nil // Pings succeed but pongs never arrive
	}, func() {
		select {
		case timeoutCh <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ka.Start(ctx)
	defer ka.Stop()

	select {
	case <-timeoutCh:
		// Expected
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback was not invoked")
	}
}

func TestKeepAlivePongResetsMissCounter(t *testing.T) {
	var mu sync.Mutex
	var lastSeq uint32
	timedOut := false

	var ka *KeepAlive
	ka = NewKeepAlive(KeepAliveConfig{
		PingInterval:   15 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 3,
	}, func(seq uint32) error {
		mu.Lock()
		lastSeq = seq
		mu.Unlock()
		// Answer every ping immediately
		go ka.PongReceived(seq)
		return nil
	}, func() {
		mu.Lock()
		timedOut = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ka.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	ka.Stop()

	mu.Lock()
	defer mu.Unlock()
	if timedOut {
		t.Error("keep-alive timed out despite pongs being received")
	}
	if lastSeq < 2 {
		t.Errorf("expected multiple pings, last sequence = %d", lastSeq)
	}
}

func TestKeepAliveStartStop(t *testing.T) {
	ka := NewKeepAlive(DefaultKeepAliveConfig(), func(seq uint32) error { return nil }, nil)

	ctx := context.Background()
	ka.Start(ctx)
	if !ka.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	// Second start is a no-op
	ka.Start(ctx)

	ka.Stop()
	if ka.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}

	// Second stop is a no-op
	ka.Stop()
}

func TestDetectionDelay(t *testing.T) {
	cfg := DefaultKeepAliveConfig()
	want := 95 * time.Second
	if got := cfg.DetectionDelay(); got != want {
		t.Errorf("DetectionDelay = %v, want %v", got, want)
	}
}
