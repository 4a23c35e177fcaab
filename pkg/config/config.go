// Package config loads the board server configuration from a YAML
// file. Values omitted from the file keep their defaults; the cmd
// binaries let flags override file values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/piconnect/piconnect-go/pkg/transport"
)

// SimulatedDevice describes one simulated sensor attached to a server
// running without hardware.
type SimulatedDevice struct {
	// Path is the simulated device path (e.g. "/dev/sim0").
	Path string `yaml:"path"`

	// Name is the device name reported during enumeration.
	Name string `yaml:"name"`

	// Serial is the reported hardware serial number.
	Serial string `yaml:"serial"`

	// StartByte is the high byte of every simulated sample.
	StartByte uint8 `yaml:"startByte"`
}

// Server is the board server configuration.
type Server struct {
	// ListenAddress is the TCP listen address.
	ListenAddress string `yaml:"listenAddress"`

	// ServerID identifies the server instance. Generated when empty.
	ServerID string `yaml:"serverId"`

	// ServerName is the user-facing server name, advertised over mDNS.
	ServerName string `yaml:"serverName"`

	// ArtifactDir is where measurement files are stored.
	ArtifactDir string `yaml:"artifactDir"`

	// ScanInterval is the periodic device re-scan interval.
	ScanInterval time.Duration `yaml:"scanInterval"`

	// DisableDiscovery turns mDNS advertising off.
	DisableDiscovery bool `yaml:"disableDiscovery"`

	// Interface restricts mDNS advertising to one network interface.
	Interface string `yaml:"interface"`

	// ProtocolLogFile is the protocol event log path. Empty disables
	// protocol logging.
	ProtocolLogFile string `yaml:"protocolLog"`

	// LogLevel is the application log level (debug/info/warn/error).
	LogLevel string `yaml:"logLevel"`

	// SimulatedDevices replaces real serial enumeration with the
	// listed simulated sensors.
	SimulatedDevices []SimulatedDevice `yaml:"simulatedDevices"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() Server {
	return Server{
		ListenAddress: fmt.Sprintf(":%d", transport.DefaultPort),
		ServerName:    "PiConnect",
		ArtifactDir:   "samples",
		ScanInterval:  30 * time.Second,
		LogLevel:      "info",
	}
}

// LoadServer reads a server configuration file, applying defaults for
// omitted values.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Server) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listenAddress must not be empty")
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("artifactDir must not be empty")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scanInterval must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logLevel %q", c.LogLevel)
	}
	seen := make(map[string]bool)
	for _, d := range c.SimulatedDevices {
		if d.Path == "" {
			return fmt.Errorf("simulated device without a path")
		}
		if seen[d.Path] {
			return fmt.Errorf("duplicate simulated device path %q", d.Path)
		}
		seen[d.Path] = true
	}
	return nil
}
