package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Logger consumes protocol events. Implementations must be safe for
// concurrent use; Log is called from the transport send and receive
// paths and must not block them.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops every event. Usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// MultiLogger fans each event out to several loggers, typically a
// FileLogger for later analysis plus a SlogAdapter for live debugging.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger creates a MultiLogger over the given loggers.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log forwards the event to every logger in order.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

// FileExtension is the conventional suffix of protocol log files.
const FileExtension = ".plog"

// FileLogger appends events to a .plog file as a raw CBOR sequence.
// Log may be called from any goroutine.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	path   string
	closed bool
}

// NewFileLogger opens path for appending, creating it with mode 0644
// when missing.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f, enc: NewEncoder(f), path: path}, nil
}

// Path returns the log file path.
func (l *FileLogger) Path() string {
	return l.path
}

// Log appends one event. Encoding errors are swallowed; the protocol
// log never takes the data path down with it.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	_ = l.enc.Encode(event)
}

// Close closes the file. Close is idempotent; later Log calls are
// dropped.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var (
	_ Logger = NoopLogger{}
	_ Logger = (*MultiLogger)(nil)
	_ Logger = (*FileLogger)(nil)
)
