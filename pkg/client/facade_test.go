package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/piconnect/piconnect-go/pkg/client"
	"github.com/piconnect/piconnect-go/pkg/connection"
	"github.com/piconnect/piconnect-go/pkg/link"
	"github.com/piconnect/piconnect-go/pkg/service"
)

func startBoard(t *testing.T, addr string) *service.BoardServer {
	t.Helper()

	opener := link.NewSimOpener()
	opener.AddDevice("/dev/sim0", link.SimProfile{StartByte: 0x1F})

	srv, err := service.NewBoardServer(service.Config{
		ListenAddress: addr,
		ServerName:    "restart-board",
		ArtifactDir:   t.TempDir(),
		Opener:        opener,
		Enumerator:    opener,
	})
	if err != nil {
		t.Fatalf("NewBoardServer failed: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return srv
}

func TestAutoReconnectAfterServerRestart(t *testing.T) {
	srv := startBoard(t, "127.0.0.1:0")
	addr := srv.Addr()

	c, err := client.NewClient(client.Config{
		ClientID:       "restart-client",
		RequestTimeout: 5 * time.Second,
		AutoReconnect:  true,
		ReconnectBackoff: connection.BackoffConfig{
			Initial: 20 * time.Millisecond,
			Max:     100 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer c.Close()

	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.OpenSession(context.Background()); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if c.ConnectionState() != connection.StateConnected {
		t.Fatalf("state = %s, want CONNECTED", c.ConnectionState())
	}

	// Server restarts on the same address
	srv.Stop()
	srv2 := startBoard(t, addr)
	defer srv2.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for c.ConnectionState() != connection.StateConnected {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, client never reconnected", c.ConnectionState())
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The session did not survive the restart; a fresh one works
	if c.SessionID() != "" {
		t.Error("session id survived the reconnect")
	}
	if err := c.OpenSession(context.Background()); err != nil {
		t.Fatalf("OpenSession after reconnect failed: %v", err)
	}
	devices, err := c.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices after reconnect failed: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("got %d devices, want 1", len(devices))
	}
}

func TestConnectionLossWithoutAutoReconnect(t *testing.T) {
	srv := startBoard(t, "127.0.0.1:0")
	addr := srv.Addr()

	c, err := client.NewClient(client.Config{
		ClientID:       "plain-client",
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer c.Close()

	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	srv.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for c.ConnectionState() != connection.StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want DISCONNECTED after loss", c.ConnectionState())
		}
		time.Sleep(20 * time.Millisecond)
	}

	// A manual Connect works once a server is back
	srv2 := startBoard(t, addr)
	defer srv2.Stop()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatalf("manual reconnect failed: %v", err)
	}
	if err := c.OpenSession(context.Background()); err != nil {
		t.Fatalf("OpenSession after manual reconnect failed: %v", err)
	}
}
