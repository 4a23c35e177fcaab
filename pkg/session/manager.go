package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piconnect/piconnect-go/pkg/registry"
)

// Session manager errors.
var (
	// ErrUnknownSession indicates the session id is invalid or closed.
	ErrUnknownSession = errors.New("unknown session")

	// ErrConflict indicates reservation contention: at least one
	// requested device is not Idle.
	ErrConflict = errors.New("reservation conflict")

	// ErrNotReserved indicates the session does not hold a reservation
	// on every required device.
	ErrNotReserved = errors.New("device not reserved by session")
)

// Session tracks one client's connection lifetime and the devices it
// has reserved.
type Session struct {
	ID           string
	ClientID     string
	ClientName   string
	ConnectionID string
	CreatedAt    time.Time

	mu   sync.Mutex
	held map[string]bool
}

// Held returns the ids of the devices the session currently holds,
// sorted.
func (s *Session) Held() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.held))
	for id := range s.held {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseHandler is called when a session closes, before its devices are
// released. The job runner uses it to cancel the session's jobs.
type CloseHandler func(sessionID string)

// Manager owns the session lifecycle: open, reserve, release, close.
// Reservation is all-or-nothing over the requested device set.
type Manager struct {
	registry *registry.Registry
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	handlersMu sync.Mutex
	onClose    []CloseHandler
}

// NewManager creates a session manager over the device registry.
func NewManager(reg *registry.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: reg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// OnClose registers a handler invoked when a session closes.
func (m *Manager) OnClose(h CloseHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.onClose = append(m.onClose, h)
}

// Open creates a session for the given client. The session is bound to
// the transport connection it arrived on.
func (m *Manager) Open(clientID, clientName, connectionID string) *Session {
	s := &Session{
		ID:           uuid.New().String(),
		ClientID:     clientID,
		ClientName:   clientName,
		ConnectionID: connectionID,
		CreatedAt:    time.Now(),
		held:         make(map[string]bool),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session opened",
		"session_id", s.ID, "client_id", clientID, "conn_id", connectionID)
	return s
}

// Get returns the session for the given id.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return s, nil
}

// Reserve transitions every requested device Idle -> Reserved under
// this session, or none of them. Fails with ErrConflict when any
// device is not Idle and registry.ErrUnknownDevice when an id is not
// in the registry.
func (m *Manager) Reserve(sessionID string, deviceIDs []string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if len(deviceIDs) == 0 {
		return nil
	}

	err = m.registry.CompareAndSetAll(deviceIDs, registry.StateIdle, registry.StateReserved, "reserve")
	if err != nil {
		if errors.Is(err, registry.ErrWrongState) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}

	s.mu.Lock()
	for _, id := range deviceIDs {
		s.held[id] = true
	}
	s.mu.Unlock()

	m.logger.Info("devices reserved", "session_id", sessionID, "device_ids", deviceIDs)
	return nil
}

// Release returns devices held by the session to Idle. Releasing a
// device the session does not hold is a no-op, so a duplicate release
// yields no error and no state change. Busy devices are skipped; the
// running job returns them on completion.
func (m *Manager) Release(sessionID string, deviceIDs []string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	m.releaseHeld(s, deviceIDs)
	return nil
}

func (m *Manager) releaseHeld(s *Session, deviceIDs []string) {
	for _, id := range deviceIDs {
		s.mu.Lock()
		held := s.held[id]
		s.mu.Unlock()
		if !held {
			continue
		}

		dev, err := m.registry.Get(id)
		if err != nil {
			continue
		}
		switch dev.State {
		case registry.StateBusy:
			// A job is running; the terminal transition settles it
			continue
		case registry.StateReserved:
			if err := m.registry.SetState(id, registry.StateIdle, "release"); err != nil {
				m.logger.Warn("release transition failed", "device_id", id, "error", err)
			}
		}
		// Offline devices just drop out of the held set

		s.mu.Lock()
		delete(s.held, id)
		s.mu.Unlock()
	}
}

// Holds reports whether the session currently holds every listed
// device. Used by the job runner to validate submissions.
func (m *Manager) Holds(sessionID string, deviceIDs []string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range deviceIDs {
		if !s.held[id] {
			return fmt.Errorf("%w: %s", ErrNotReserved, id)
		}
	}
	return nil
}

// Close ends a session: close handlers run first (cancelling the
// session's jobs), then every device still held is released.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	m.handlersMu.Lock()
	handlers := make([]CloseHandler, len(m.onClose))
	copy(handlers, m.onClose)
	m.handlersMu.Unlock()
	for _, h := range handlers {
		h(sessionID)
	}

	m.releaseHeld(s, s.Held())
	m.logger.Info("session closed", "session_id", sessionID)
	return nil
}

// CloseByConnection closes every session bound to the given transport
// connection. Called when a client disconnects.
func (m *Manager) CloseByConnection(connectionID string) {
	m.mu.RLock()
	var ids []string
	for id, s := range m.sessions {
		if s.ConnectionID == connectionID {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Close(id); err != nil && !errors.Is(err, ErrUnknownSession) {
			m.logger.Warn("session close failed", "session_id", id, "error", err)
		}
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
