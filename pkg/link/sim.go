package link

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SimProfile describes the byte stream of a simulated sensor.
type SimProfile struct {
	// Name is the device name reported during enumeration.
	Name string

	// Serial is the hardware serial number.
	Serial string

	// StartByte is the high byte of every sample.
	StartByte uint8

	// LowBytes is the cycle of low bytes the stream repeats.
	// Defaults to 0x00..0xFF when empty.
	LowBytes []byte

	// Phase shifts the start of the stream by that many bytes,
	// simulating a link opened mid-sample.
	Phase int

	// FailAfter makes reads fail with ErrLinkLost after that many
	// bytes. Zero means the stream never fails.
	FailAfter int

	// ReadDelay is slept on every Read call, pacing the stream so
	// tests can observe in-flight captures.
	ReadDelay time.Duration
}

// SimLink is a deterministic in-memory sensor stream.
type SimLink struct {
	path    string
	profile SimProfile

	mu     sync.Mutex
	pos    int
	read   int
	closed bool
}

// NewSimLink creates a simulated link for the given profile.
func NewSimLink(path string, profile SimProfile) *SimLink {
	if len(profile.LowBytes) == 0 {
		lows := make([]byte, 256)
		for i := range lows {
			lows[i] = byte(i)
		}
		profile.LowBytes = lows
	}
	return &SimLink{
		path:    path,
		profile: profile,
		pos:     profile.Phase,
	}
}

func (l *SimLink) Path() string {
	return l.path
}

// byteAt returns the stream byte at absolute position i.
// Even positions carry the start byte, odd positions the low byte.
func (l *SimLink) byteAt(i int) byte {
	if i%2 == 0 {
		return l.profile.StartByte
	}
	return l.profile.LowBytes[(i/2)%len(l.profile.LowBytes)]
}

func (l *SimLink) Read(p []byte) (int, error) {
	if l.profile.ReadDelay > 0 {
		time.Sleep(l.profile.ReadDelay)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLinkClosed
	}

	for i := range p {
		if l.profile.FailAfter > 0 && l.read >= l.profile.FailAfter {
			if i > 0 {
				return i, nil
			}
			return 0, ErrLinkLost
		}
		p[i] = l.byteAt(l.pos)
		l.pos++
		l.read++
	}
	return len(p), nil
}

func (l *SimLink) ResetInput() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	// Re-align to a sample boundary, as a real flush tends to do
	if l.pos%2 != 0 {
		l.pos++
	}
	return nil
}

func (l *SimLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// SimOpener opens simulated links and enumerates simulated devices.
type SimOpener struct {
	mu       sync.Mutex
	profiles map[string]SimProfile
}

// NewSimOpener creates an opener with no devices attached.
func NewSimOpener() *SimOpener {
	return &SimOpener{profiles: make(map[string]SimProfile)}
}

// AddDevice attaches a simulated device under the given path.
func (o *SimOpener) AddDevice(path string, profile SimProfile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.profiles[path] = profile
}

// RemoveDevice detaches a simulated device.
func (o *SimOpener) RemoveDevice(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.profiles, path)
}

// Open opens a link to a simulated device.
func (o *SimOpener) Open(path string) (Link, error) {
	o.mu.Lock()
	profile, ok := o.profiles[path]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no simulated device at %s", path)
	}
	return NewSimLink(path, profile), nil
}

// Enumerate lists the attached simulated devices sorted by path.
func (o *SimOpener) Enumerate() ([]DeviceDesc, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	paths := make([]string, 0, len(o.profiles))
	for path := range o.profiles {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	devices := make([]DeviceDesc, 0, len(paths))
	for _, path := range paths {
		p := o.profiles[path]
		serial := p.Serial
		if serial == "" {
			serial = "-"
		}
		name := p.Name
		if name == "" {
			name = "Simulated Sensor"
		}
		devices = append(devices, DeviceDesc{Path: path, Name: name, Serial: serial})
	}
	return devices, nil
}

// Compile-time interface satisfaction checks.
var (
	_ Link       = (*SimLink)(nil)
	_ Opener     = (*SimOpener)(nil)
	_ Enumerator = (*SimOpener)(nil)
)
