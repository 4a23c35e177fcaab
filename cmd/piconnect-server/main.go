// Command piconnect-server is the board-resident measurement server.
//
// It enumerates serial-attached accelerometer sensors, advertises
// itself over mDNS, and serves desktop clients over TCP: device
// reservation, calibration and capture jobs, and artifact retrieval.
//
// Usage:
//
//	piconnect-server [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-listen string        TCP listen address (default ":50001")
//	-name string          Server name advertised over mDNS
//	-artifact-dir string  Directory for measurement files
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Protocol event log file path
//	-simulate             Run with simulated sensors instead of serial hardware
//	-no-discovery         Disable mDNS advertising
//	-purge-artifacts      Remove all stored artifacts before serving
//
// At -log-level debug, protocol events are mirrored into the
// application log in addition to the -protocol-log file.
//
// Examples:
//
//	# Serve real serial-attached sensors
//	piconnect-server -name bench-pi -artifact-dir /var/lib/piconnect
//
//	# Run from a config file
//	piconnect-server -config /etc/piconnect/server.yaml
//
//	# Development mode with two simulated sensors
//	piconnect-server -simulate -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/piconnect/piconnect-go/pkg/config"
	"github.com/piconnect/piconnect-go/pkg/discovery"
	"github.com/piconnect/piconnect-go/pkg/link"
	"github.com/piconnect/piconnect-go/pkg/log"
	"github.com/piconnect/piconnect-go/pkg/service"
)

var (
	configFile  string
	listenAddr  string
	serverName  string
	artifactDir string
	logLevel    string
	protocolLog string
	simulate    bool
	noDiscovery bool
	purgeOld    bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&listenAddr, "listen", "", "TCP listen address")
	flag.StringVar(&serverName, "name", "", "Server name advertised over mDNS")
	flag.StringVar(&artifactDir, "artifact-dir", "", "Directory for measurement files")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&protocolLog, "protocol-log", "", "Protocol event log file path")
	flag.BoolVar(&simulate, "simulate", false, "Run with simulated sensors instead of serial hardware")
	flag.BoolVar(&noDiscovery, "no-discovery", false, "Disable mDNS advertising")
	flag.BoolVar(&purgeOld, "purge-artifacts", false, "Remove all stored artifacts before serving")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "piconnect-server: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting PiConnect board server",
		"listen", cfg.ListenAddress,
		"name", cfg.ServerName,
		"artifactDir", cfg.ArtifactDir)

	svcConfig := service.Config{
		ListenAddress: cfg.ListenAddress,
		ServerID:      cfg.ServerID,
		ServerName:    cfg.ServerName,
		ArtifactDir:   cfg.ArtifactDir,
		ScanInterval:  cfg.ScanInterval,
		Logger:        logger,
	}

	if cfg.ProtocolLogFile != "" {
		fileLog, err := log.NewFileLogger(cfg.ProtocolLogFile)
		if err != nil {
			logger.Error("failed to open protocol log", "path", cfg.ProtocolLogFile, "error", err)
			os.Exit(1)
		}
		defer fileLog.Close()
		svcConfig.ProtocolLog = fileLog
		if cfg.LogLevel == "debug" {
			// Mirror protocol events into the debug log
			svcConfig.ProtocolLog = log.NewMultiLogger(fileLog, log.NewSlogAdapter(logger))
		}
		logger.Info("protocol logging enabled", "path", fileLog.Path())
	}

	if simulate || len(cfg.SimulatedDevices) > 0 {
		opener := link.NewSimOpener()
		for _, d := range simProfiles(cfg) {
			opener.AddDevice(d.path, d.profile)
		}
		svcConfig.Opener = opener
		svcConfig.Enumerator = opener
		logger.Info("simulation mode", "devices", len(simProfiles(cfg)))
	} else {
		svcConfig.Opener = link.NewSerialOpener()
		svcConfig.Enumerator = link.NewSerialEnumerator()
	}

	if !cfg.DisableDiscovery && !noDiscovery {
		advCfg := discovery.DefaultAdvertiserConfig()
		advCfg.Interface = cfg.Interface
		advertiser, err := discovery.NewMDNSAdvertiser(advCfg)
		if err != nil {
			logger.Error("failed to create mDNS advertiser", "error", err)
			os.Exit(1)
		}
		svcConfig.Advertiser = advertiser
	} else {
		logger.Info("mDNS advertising disabled")
	}

	srv, err := service.NewBoardServer(svcConfig)
	if err != nil {
		logger.Error("failed to create board server", "error", err)
		os.Exit(1)
	}

	if purgeOld {
		n, err := srv.Artifacts().PurgeAll()
		if err != nil {
			logger.Error("artifact purge failed", "error", err)
			os.Exit(1)
		}
		logger.Info("stored artifacts purged", "count", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start board server", "error", err)
		os.Exit(1)
	}
	logger.Info("board server listening", "addr", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String())
	if err := srv.Stop(); err != nil {
		logger.Error("error stopping board server", "error", err)
	}
}

// loadConfig reads the config file (when given) and applies flag
// overrides on top.
func loadConfig() (*config.Server, error) {
	cfg := config.DefaultServer()
	if configFile != "" {
		loaded, err := config.LoadServer(configFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if listenAddr != "" {
		cfg.ListenAddress = listenAddr
	}
	if serverName != "" {
		cfg.ServerName = serverName
	}
	if artifactDir != "" {
		cfg.ArtifactDir = artifactDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if protocolLog != "" {
		cfg.ProtocolLogFile = protocolLog
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

type simDevice struct {
	path    string
	profile link.SimProfile
}

// simProfiles returns the simulated devices from the config, or a
// default pair when -simulate is set without any configured devices.
func simProfiles(cfg *config.Server) []simDevice {
	if len(cfg.SimulatedDevices) == 0 {
		return []simDevice{
			{"/dev/sim0", link.SimProfile{Name: "Simulated Sensor 0", StartByte: 0x1F}},
			{"/dev/sim1", link.SimProfile{Name: "Simulated Sensor 1", StartByte: 0x20}},
		}
	}
	devices := make([]simDevice, 0, len(cfg.SimulatedDevices))
	for _, d := range cfg.SimulatedDevices {
		devices = append(devices, simDevice{
			path: d.Path,
			profile: link.SimProfile{
				Name:      d.Name,
				Serial:    d.Serial,
				StartByte: d.StartByte,
			},
		})
	}
	return devices
}
