// Package client is the desktop-side session facade: it discovers
// board servers over mDNS with bounded-backoff retry, opens a session
// over the framed CBOR transport, and wraps reservation, job
// submission, artifact retrieval, and the job event stream behind a
// sequential call interface.
package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/piconnect/piconnect-go/pkg/connection"
	"github.com/piconnect/piconnect-go/pkg/discovery"
	"github.com/piconnect/piconnect-go/pkg/log"
	"github.com/piconnect/piconnect-go/pkg/transport"
	"github.com/piconnect/piconnect-go/pkg/version"
	"github.com/piconnect/piconnect-go/pkg/wire"
)

// DefaultRequestTimeout bounds one request/response round trip.
const DefaultRequestTimeout = 30 * time.Second

// browseAttemptWindow is the length of one discovery browse attempt
// before backing off.
const browseAttemptWindow = 2 * time.Second

// receivePollInterval is the read deadline of one receive loop pass.
const receivePollInterval = 1 * time.Second

// Config configures a client facade.
type Config struct {
	// ClientID identifies this client to servers.
	ClientID string

	// ClientName is the user-facing client name.
	ClientName string

	// RequestTimeout bounds one request/response round trip.
	RequestTimeout time.Duration

	// EventBuffer is the job event channel capacity.
	EventBuffer int

	// Interface restricts discovery to one network interface.
	Interface string

	// AutoReconnect redials the last server address with exponential
	// backoff after a connection loss. The session does not survive a
	// reconnect; callers open a new one.
	AutoReconnect bool

	// ReconnectBackoff overrides the reconnect retry schedule. Zero
	// fields use the defaults.
	ReconnectBackoff connection.BackoffConfig

	// Logger is the application logger.
	Logger *slog.Logger

	// ProtocolLog records transport-level protocol events.
	ProtocolLog log.Logger
}

// Client is a facade over discovery, the session protocol, and
// artifact retrieval. Calls are safe for concurrent use; requests are
// correlated by message id.
type Client struct {
	config Config
	logger *slog.Logger

	tc     *transport.Client
	reconn *connection.Manager

	mu         sync.Mutex
	lastAddr   string
	conn       *transport.ClientConn
	sessionID  string
	serverName string
	keepalive  *transport.KeepAlive
	kaCancel   context.CancelFunc
	readDone   chan struct{}

	nextID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response

	events chan wire.Event
}

// NewClient creates a client facade.
func NewClient(config Config) (*Client, error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	tc, err := transport.NewClient(transport.ClientConfig{Logger: config.ProtocolLog})
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:  config,
		logger:  config.Logger,
		tc:      tc,
		pending: make(map[uint32]chan *wire.Response),
	}
	c.nextID.Store(wire.MinRequestMessageID - 1)

	c.reconn = connection.NewManager(c.dial)
	c.reconn.SetBackoff(connection.NewBackoffWithConfig(config.ReconnectBackoff))
	c.reconn.SetAutoReconnect(config.AutoReconnect)
	c.reconn.OnReconnecting(func(attempt int, delay time.Duration) {
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	})
	if config.AutoReconnect {
		c.reconn.StartReconnectLoop()
	}
	return c, nil
}

// ConnectionState reports the connection lifecycle state, including
// RECONNECTING while an automatic redial is in progress.
func (c *Client) ConnectionState() connection.State {
	return c.reconn.State()
}

// Events returns the job status event stream of the current
// connection. The channel closes when the connection goes away.
func (c *Client) Events() <-chan wire.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Discover finds board servers on the local network, retrying with
// exponential backoff until the overall timeout. The first server
// found is returned.
func (c *Client) Discover(ctx context.Context, overall time.Duration) (*discovery.ServerService, error) {
	browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: c.config.Interface})
	if err != nil {
		return nil, err
	}
	defer browser.Stop()

	backoff := connection.NewBackoff()
	deadline := time.Now().Add(overall)

	for {
		svc, err := c.browseOnce(ctx, browser)
		if err == nil && svc != nil {
			return svc, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, err
		}

		delay := backoff.Next()
		if time.Now().Add(delay).After(deadline) {
			return nil, fmt.Errorf("%w: no server found within %v", ErrDiscoveryTimeout, overall)
		}
		c.logger.Debug("no server found, retrying discovery",
			"attempt", backoff.Attempts(), "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) browseOnce(ctx context.Context, browser discovery.Browser) (*discovery.ServerService, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, browseAttemptWindow)
	defer cancel()

	services, err := browser.Browse(attemptCtx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case svc, ok := <-services:
			if !ok {
				return nil, nil
			}
			if svc == nil || len(svc.Addresses) == 0 {
				continue
			}
			if !version.IsCompatible(svc.Firmware) {
				c.logger.Debug("skipping incompatible server",
					"server", svc.ServerName, "firmware", svc.Firmware)
				continue
			}
			return svc, nil
		case <-attemptCtx.Done():
			return nil, nil
		}
	}
}

// Connect opens a TCP connection to the given server address. With
// AutoReconnect set, a later connection loss redials the same address.
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.lastAddr = address
	c.mu.Unlock()

	return c.reconn.Connect(ctx)
}

// dial establishes one connection to the last requested address. It
// runs under the connection manager, for both user-initiated connects
// and automatic reconnects.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	address := c.lastAddr
	c.mu.Unlock()

	conn, err := c.tc.Connect(ctx, address)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	if c.kaCancel != nil {
		c.kaCancel()
	}
	c.conn = conn
	c.events = make(chan wire.Event, c.config.EventBuffer)
	c.readDone = make(chan struct{})
	go c.readLoop(conn, c.events, c.readDone)

	ka := transport.NewKeepAlive(transport.DefaultKeepAliveConfig(),
		conn.SendPing, func() { c.connectionLost(conn) })
	kaCtx, kaCancel := context.WithCancel(context.Background())
	ka.Start(kaCtx)
	c.keepalive = ka
	c.kaCancel = kaCancel
	c.mu.Unlock()

	c.logger.Info("connected", "address", address)
	return nil
}

// ConnectDiscovered discovers a server and connects to its first
// address.
func (c *Client) ConnectDiscovered(ctx context.Context, overall time.Duration) (*discovery.ServerService, error) {
	svc, err := c.Discover(ctx, overall)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(svc.Addresses[0], fmt.Sprintf("%d", svc.Port))
	if err := c.Connect(ctx, addr); err != nil {
		return nil, err
	}
	return svc, nil
}

func (c *Client) connectionLost(conn *transport.ClientConn) {
	c.logger.Warn("connection lost")
	conn.Close()
}

// readLoop receives frames and dispatches them: responses to their
// waiting callers, events to the event channel, pongs to the
// keepalive.
func (c *Client) readLoop(conn *transport.ClientConn, events chan wire.Event, done chan struct{}) {
	// Runs last: the connection manager sees the loss only after the
	// dead conn is cleared, so a redial can install a fresh one
	defer c.reconn.NotifyConnectionLost()
	defer close(done)
	defer c.failPending()
	defer close(events)
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.sessionID = ""
		}
		c.mu.Unlock()
	}()

	for {
		data, err := conn.Receive(receivePollInterval)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}

		kind, err := wire.PeekMessageKind(data)
		if err != nil {
			c.logger.Warn("dropping unclassifiable frame", "error", err)
			continue
		}

		switch kind {
		case wire.KindControl:
			c.handleControl(data)
		case wire.KindEvent:
			ev, err := wire.DecodeEvent(data)
			if err != nil {
				c.logger.Warn("dropping malformed event", "error", err)
				continue
			}
			select {
			case events <- *ev:
			default:
				c.logger.Warn("event buffer full, dropping event", "job_id", ev.JobID)
			}
		case wire.KindData:
			resp, err := wire.DecodeResponse(data)
			if err != nil {
				c.logger.Warn("dropping malformed response", "error", err)
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[resp.MessageID]
			if ok {
				delete(c.pending, resp.MessageID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- resp
			}
		}
	}
}

func (c *Client) handleControl(data []byte) {
	msg, err := wire.DecodeControlMessage(data)
	if err != nil {
		return
	}
	switch msg.Type {
	case wire.ControlPong:
		c.mu.Lock()
		ka := c.keepalive
		c.mu.Unlock()
		if ka != nil {
			ka.PongReceived(msg.Sequence)
		}
	case wire.ControlClose:
		c.logger.Info("server requested close")
	}
}

// failPending unblocks every in-flight request after the connection
// died.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// request performs one request/response round trip. The result payload
// is decoded into out when out is non-nil.
func (c *Client) request(ctx context.Context, op wire.Operation, payload, out any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	id := c.nextID.Add(1)
	req, err := wire.NewRequest(id, op, payload)
	if err != nil {
		return err
	}
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}

	ch := make(chan *wire.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := conn.Send(data); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return transport.ErrConnectionClosed
		}
		if resp.Status.IsError() {
			var ep wire.ErrorPayload
			wire.Unmarshal(resp.Payload, &ep)
			return &StatusError{Status: resp.Status, Message: ep.Message}
		}
		if out != nil && resp.Payload != nil {
			if err := wire.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("failed to decode response payload: %w", err)
			}
		}
		return nil
	case <-time.After(c.config.RequestTimeout):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestTimeout, op)
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return ctx.Err()
	}
}

// OpenSession opens a session on the connected server.
func (c *Client) OpenSession(ctx context.Context) error {
	var resp wire.OpenSessionResponsePayload
	err := c.request(ctx, wire.OpOpenSession, &wire.OpenSessionPayload{
		ClientID:   c.config.ClientID,
		ClientName: c.config.ClientName,
	}, &resp)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.serverName = resp.ServerName
	c.mu.Unlock()
	c.logger.Info("session opened", "session_id", resp.SessionID, "server", resp.ServerName)
	return nil
}

// SessionID returns the current session id, empty when none is open.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerName returns the name the server reported at session open.
func (c *Client) ServerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverName
}

func (c *Client) session() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return "", ErrNoSession
	}
	return c.sessionID, nil
}

// ListDevices returns the server's device registry snapshot.
func (c *Client) ListDevices(ctx context.Context) ([]wire.DeviceInfo, error) {
	var resp wire.ListDevicesResponsePayload
	if err := c.request(ctx, wire.OpListDevices, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// Reserve reserves the given devices, all or nothing.
func (c *Client) Reserve(ctx context.Context, deviceIDs []string) error {
	sid, err := c.session()
	if err != nil {
		return err
	}
	return c.request(ctx, wire.OpReserve, &wire.ReservePayload{
		SessionID: sid,
		DeviceIDs: deviceIDs,
	}, nil)
}

// Release releases the given devices. Duplicate releases are no-ops.
func (c *Client) Release(ctx context.Context, deviceIDs []string) error {
	sid, err := c.session()
	if err != nil {
		return err
	}
	return c.request(ctx, wire.OpRelease, &wire.ReleasePayload{
		SessionID: sid,
		DeviceIDs: deviceIDs,
	}, nil)
}

// SubmitJob schedules a measurement job and returns its id.
func (c *Client) SubmitJob(ctx context.Context, op wire.JobOperation, targets []wire.JobTarget, durationSeconds uint32) (string, error) {
	sid, err := c.session()
	if err != nil {
		return "", err
	}
	var resp wire.SubmitJobResponsePayload
	err = c.request(ctx, wire.OpSubmitJob, &wire.SubmitJobPayload{
		SessionID:       sid,
		Operation:       op,
		Targets:         targets,
		DurationSeconds: durationSeconds,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// CancelJob requests cooperative cancellation of a job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	sid, err := c.session()
	if err != nil {
		return err
	}
	return c.request(ctx, wire.OpCancelJob, &wire.CancelJobPayload{
		SessionID: sid,
		JobID:     jobID,
	}, nil)
}

// JobStatus queries the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*wire.JobStatusResponsePayload, error) {
	sid, err := c.session()
	if err != nil {
		return nil, err
	}
	var resp wire.JobStatusResponsePayload
	err = c.request(ctx, wire.OpJobStatus, &wire.JobStatusPayload{
		SessionID: sid,
		JobID:     jobID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchArtifact streams an artifact into w, chunk by chunk, and
// verifies its BLAKE2b digest against the server-reported value.
func (c *Client) FetchArtifact(ctx context.Context, artifactID string, w io.Writer) (*wire.ArtifactInfo, error) {
	sid, err := c.session()
	if err != nil {
		return nil, err
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	sink := io.MultiWriter(w, hasher)

	var info *wire.ArtifactInfo
	var offset uint64
	for {
		var resp wire.FetchArtifactResponsePayload
		err := c.request(ctx, wire.OpFetchArtifact, &wire.FetchArtifactPayload{
			SessionID:  sid,
			ArtifactID: artifactID,
			Offset:     offset,
		}, &resp)
		if err != nil {
			return nil, err
		}
		if info == nil {
			i := resp.Info
			info = &i
		}
		if _, err := sink.Write(resp.Data); err != nil {
			return nil, err
		}
		offset += uint64(len(resp.Data))
		if resp.EOF {
			break
		}
	}

	if info.Digest != "" && info.Digest != hex.EncodeToString(hasher.Sum(nil)) {
		return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, artifactID)
	}
	return info, nil
}

// CloseSession closes the current session, releasing its devices and
// cancelling its jobs.
func (c *Client) CloseSession(ctx context.Context) error {
	sid, err := c.session()
	if err != nil {
		return err
	}
	err = c.request(ctx, wire.OpCloseSession, &wire.CloseSessionPayload{SessionID: sid}, nil)

	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	return err
}

// Close tears the connection down, closing the session first when one
// is open.
func (c *Client) Close() error {
	// No redials once the user is shutting down
	c.reconn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.session(); err == nil {
		if err := c.CloseSession(ctx); err != nil {
			c.logger.Debug("session close on shutdown failed", "error", err)
		}
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	ka := c.keepalive
	c.keepalive = nil
	kaCancel := c.kaCancel
	c.kaCancel = nil
	readDone := c.readDone
	c.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	if kaCancel != nil {
		kaCancel()
	}
	if conn == nil {
		return nil
	}
	if err := conn.SendClose(); err != nil {
		c.logger.Debug("close notification failed", "error", err)
	}
	err := conn.Close()
	if readDone != nil {
		<-readDone
	}
	return err
}
