package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piconnect/piconnect-go/pkg/artifact"
	"github.com/piconnect/piconnect-go/pkg/discovery"
	"github.com/piconnect/piconnect-go/pkg/job"
	"github.com/piconnect/piconnect-go/pkg/link"
	"github.com/piconnect/piconnect-go/pkg/log"
	"github.com/piconnect/piconnect-go/pkg/registry"
	"github.com/piconnect/piconnect-go/pkg/session"
	"github.com/piconnect/piconnect-go/pkg/transport"
	"github.com/piconnect/piconnect-go/pkg/version"
	"github.com/piconnect/piconnect-go/pkg/wire"
)

// DefaultScanInterval is the periodic device re-scan interval.
const DefaultScanInterval = 30 * time.Second

// Config configures a board server.
type Config struct {
	// ListenAddress is the TCP listen address (default ":50001").
	ListenAddress string

	// ServerID identifies the server instance. Generated when empty.
	ServerID string

	// ServerName is the user-facing server name.
	ServerName string

	// ArtifactDir is the directory measurement files are stored in.
	ArtifactDir string

	// ScanInterval is the periodic device re-scan interval.
	ScanInterval time.Duration

	// Firmware is the advertised server version.
	Firmware string

	// Opener opens serial links to devices.
	Opener link.Opener

	// Enumerator lists attached devices for registry scans.
	Enumerator link.Enumerator

	// Advertiser announces the server over mDNS. Nil disables
	// discovery advertising.
	Advertiser discovery.Advertiser

	// Logger is the application logger.
	Logger *slog.Logger

	// ProtocolLog records transport-level protocol events.
	ProtocolLog log.Logger
}

// BoardServer is the board-resident daemon: registry, sessions, job
// runner, and artifact store behind one TCP endpoint.
type BoardServer struct {
	config Config
	logger *slog.Logger

	registry *registry.Registry
	sessions *session.Manager
	runner   *job.Runner
	store    *artifact.Store
	handler  *Handler
	server   *transport.Server

	mu      sync.RWMutex
	conns   map[string]*transport.ServerConn
	started bool

	scanStop chan struct{}
	scanDone chan struct{}
}

// NewBoardServer assembles a board server from its configuration.
func NewBoardServer(config Config) (*BoardServer, error) {
	if config.Opener == nil || config.Enumerator == nil {
		return nil, fmt.Errorf("device opener and enumerator are required")
	}
	if config.ListenAddress == "" {
		config.ListenAddress = fmt.Sprintf(":%d", transport.DefaultPort)
	}
	if config.ServerID == "" {
		config.ServerID = uuid.New().String()
	}
	if config.ServerName == "" {
		config.ServerName = "PiConnect"
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultScanInterval
	}
	if config.Firmware == "" {
		config.Firmware = version.Current
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	store, err := artifact.NewStore(config.ArtifactDir, config.Logger)
	if err != nil {
		return nil, err
	}

	s := &BoardServer{
		config: config,
		logger: config.Logger,
		store:  store,
		conns:  make(map[string]*transport.ServerConn),
	}
	s.registry = registry.NewRegistry(config.Enumerator, config.Logger)
	s.sessions = session.NewManager(s.registry, config.Logger)
	s.runner = job.NewRunner(s.registry, s.sessions, store, config.Opener, config.Logger)
	s.handler = NewHandler(s.registry, s.sessions, s.runner, store, config.ServerName, config.Logger)

	s.runner.OnEvent(s.pushJobEvent)
	s.registry.OnChange(func(registry.Change) { s.updateAdvertisement() })

	server, err := transport.NewServer(transport.ServerConfig{
		Address:      config.ListenAddress,
		Logger:       config.ProtocolLog,
		OnConnect:    s.onConnect,
		OnDisconnect: s.onDisconnect,
		OnMessage:    s.onMessage,
		OnError:      s.onError,
	})
	if err != nil {
		return nil, err
	}
	s.server = server
	return s, nil
}

// Registry returns the device registry.
func (s *BoardServer) Registry() *registry.Registry {
	return s.registry
}

// Artifacts returns the artifact store.
func (s *BoardServer) Artifacts() *artifact.Store {
	return s.store
}

// Addr returns the listen address once started.
func (s *BoardServer) Addr() string {
	if addr := s.server.Addr(); addr != nil {
		return addr.String()
	}
	return s.config.ListenAddress
}

// Start scans for devices, opens the TCP endpoint, and begins
// advertising. A failed start leaves the server stopped; Stop after a
// failed Start is a no-op.
func (s *BoardServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.startup(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info("board server started",
		"address", s.Addr(), "server_id", s.config.ServerID, "name", s.config.ServerName)
	return nil
}

func (s *BoardServer) startup(ctx context.Context) error {
	devices, err := s.registry.Scan()
	if err != nil {
		return err
	}
	s.logger.Info("initial device scan complete", "devices", len(devices))

	if err := s.server.Start(ctx); err != nil {
		return err
	}

	if s.config.Advertiser != nil {
		if err := s.config.Advertiser.Advertise(ctx, s.serverInfo()); err != nil {
			s.server.Stop()
			return fmt.Errorf("discovery advertise failed: %w", err)
		}
	}

	s.mu.Lock()
	s.scanStop = make(chan struct{})
	s.scanDone = make(chan struct{})
	s.mu.Unlock()
	go s.scanLoop()
	return nil
}

// Stop shuts the server down: advertising, connections, scan loop.
func (s *BoardServer) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	scanStop := s.scanStop
	s.scanStop = nil
	s.mu.Unlock()

	if s.config.Advertiser != nil {
		if err := s.config.Advertiser.Stop(); err != nil {
			s.logger.Warn("advertiser stop failed", "error", err)
		}
	}
	if scanStop != nil {
		close(scanStop)
		<-s.scanDone
	}
	return s.server.Stop()
}

func (s *BoardServer) scanLoop() {
	defer close(s.scanDone)
	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.registry.Scan(); err != nil {
				s.logger.Warn("periodic device scan failed", "error", err)
			}
		case <-s.scanStop:
			return
		}
	}
}

func (s *BoardServer) serverInfo() *discovery.ServerInfo {
	summary := s.registry.Snapshot()
	return &discovery.ServerInfo{
		ServerID:     s.config.ServerID,
		ServerName:   s.config.ServerName,
		DeviceCount:  summary.DeviceCount,
		Capabilities: summary.Capabilities,
		Degraded:     summary.Degraded,
		Firmware:     s.config.Firmware,
	}
}

// updateAdvertisement refreshes the TXT records after a registry
// change.
func (s *BoardServer) updateAdvertisement() {
	if s.config.Advertiser == nil {
		return
	}
	if err := s.config.Advertiser.Update(s.serverInfo()); err != nil {
		s.logger.Warn("discovery update failed", "error", err)
	}
}

func (s *BoardServer) onConnect(conn *transport.ServerConn) {
	s.mu.Lock()
	s.conns[conn.ConnID()] = conn
	s.mu.Unlock()
	s.logger.Info("client connected", "conn_id", conn.ConnID(), "remote", conn.RemoteAddr())
}

func (s *BoardServer) onDisconnect(conn *transport.ServerConn) {
	s.mu.Lock()
	delete(s.conns, conn.ConnID())
	s.mu.Unlock()

	// Disconnect implies CloseSession
	s.sessions.CloseByConnection(conn.ConnID())
	s.logger.Info("client disconnected", "conn_id", conn.ConnID())
}

func (s *BoardServer) onError(conn *transport.ServerConn, err error) {
	connID := ""
	if conn != nil {
		connID = conn.ConnID()
	}
	s.logger.Warn("transport error", "conn_id", connID, "error", err)
}

func (s *BoardServer) onMessage(conn *transport.ServerConn, msg []byte) {
	req, err := wire.DecodeRequest(msg)
	if err != nil {
		s.logger.Warn("dropping malformed request", "conn_id", conn.ConnID(), "error", err)
		return
	}

	resp := s.handler.Handle(conn.ConnID(), req)
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		s.logger.Error("response encoding failed", "conn_id", conn.ConnID(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		s.logger.Warn("response send failed", "conn_id", conn.ConnID(), "error", err)
	}
}

// pushJobEvent forwards a job status change to the connection owning
// the job's session.
func (s *BoardServer) pushJobEvent(ev job.Event) {
	sess, err := s.sessions.Get(ev.SessionID)
	if err != nil {
		return // Session already closed
	}

	s.mu.RLock()
	conn, ok := s.conns[sess.ConnectionID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	data, err := wire.EncodeEvent(&wire.Event{
		JobID:     ev.JobID,
		JobStatus: uint8(ev.State),
		Detail:    ev.Detail,
	})
	if err != nil {
		s.logger.Error("event encoding failed", "job_id", ev.JobID, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		s.logger.Warn("event send failed", "conn_id", conn.ConnID(), "error", err)
	}
}
