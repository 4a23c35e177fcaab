package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the service type board servers advertise.
	ServiceType = "_piconnect._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default PiConnect port.
	DefaultPort = 50001
)

// TXT record key constants.
const (
	TXTKeyServerID     = "SI"  // Server instance ID (UUID)
	TXTKeyServerName   = "SN"  // Server name (user-configurable)
	TXTKeyDeviceCount  = "DC"  // Number of attached sensor devices
	TXTKeyCapabilities = "cat" // Device capabilities (comma-separated)
	TXTKeyDegraded     = "DG"  // "1" when some devices are offline
	TXTKeyFirmware     = "FW"  // Firmware version (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// MDNSUpdateDelay is the maximum delay for mDNS updates.
	MDNSUpdateDelay = 1 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrBrowseTimeout       = errors.New("browse timeout")
	ErrNotAdvertising      = errors.New("service not advertising")
)

// ServerInfo contains information for advertising a board server.
type ServerInfo struct {
	// ServerID uniquely identifies this server instance (UUID).
	ServerID string

	// ServerName is the user-configurable server name.
	ServerName string

	// DeviceCount is the number of attached sensor devices.
	DeviceCount int

	// Capabilities lists the capabilities of the attached devices.
	Capabilities []string

	// Degraded indicates that some devices are offline.
	Degraded bool

	// Firmware is the optional firmware version.
	Firmware string

	// Port is the service port.
	Port uint16

	// Host is the hostname to advertise.
	Host string
}

// ServerService represents a board server found via mDNS.
type ServerService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the hostname (e.g., "pi-bench-01.local").
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	// ServerID is the server instance ID (from TXT "SI").
	ServerID string

	// ServerName is the server name (from TXT "SN").
	ServerName string

	// DeviceCount is the number of attached devices (from TXT "DC").
	DeviceCount int

	// Capabilities contains device capabilities (from TXT "cat").
	Capabilities []string

	// Degraded indicates some devices are offline (from TXT "DG").
	Degraded bool

	// Firmware is the optional firmware version (from TXT "FW").
	Firmware string
}
