// Command piconnect-client is an interactive desktop client for a
// PiConnect board server.
//
// It discovers a board server over mDNS (or connects directly),
// opens a session, and drives device reservation, calibration and
// capture jobs, and artifact downloads from a command prompt.
//
// Usage:
//
//	piconnect-client [flags]
//
// Flags:
//
//	-server string        Server address (host:port); skips mDNS discovery
//	-name string          Client name reported to the server
//	-interface string     Network interface for mDNS discovery
//	-state-dir string     Directory for persisted calibrations
//	-protocol-log string  Protocol event log file path
//	-log-level string     Log level: debug, info, warn, error
//
// Examples:
//
//	# Discover a board server on the LAN
//	piconnect-client
//
//	# Connect to a known address
//	piconnect-client -server 192.168.1.40:50001
//
//	# Record the protocol exchange for later analysis
//	piconnect-client -protocol-log session.plog
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/piconnect/piconnect-go/cmd/piconnect-client/interactive"
	"github.com/piconnect/piconnect-go/pkg/client"
	"github.com/piconnect/piconnect-go/pkg/log"
	"github.com/piconnect/piconnect-go/pkg/persistence"
)

var (
	serverAddr  string
	clientName  string
	ifaceName   string
	stateDir    string
	protocolLog string
	logLevel    string
)

func init() {
	flag.StringVar(&serverAddr, "server", "", "Server address (host:port); skips mDNS discovery")
	flag.StringVar(&clientName, "name", "", "Client name reported to the server")
	flag.StringVar(&ifaceName, "interface", "", "Network interface for mDNS discovery")
	flag.StringVar(&stateDir, "state-dir", "", "Directory for persisted calibrations")
	flag.StringVar(&protocolLog, "protocol-log", "", "Protocol event log file path")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if clientName == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "desktop"
		}
		clientName = host
	}

	cfg := client.Config{
		ClientID:       uuid.New().String(),
		ClientName:     clientName,
		RequestTimeout: 30 * time.Second,
		Interface:      ifaceName,
		Logger:         newLogger(logLevel),
	}

	if protocolLog != "" {
		fileLog, err := log.NewFileLogger(protocolLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "piconnect-client: failed to open protocol log: %v\n", err)
			os.Exit(1)
		}
		defer fileLog.Close()
		cfg.ProtocolLog = fileLog
	}

	c, err := client.NewClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "piconnect-client: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store *persistence.CalibrationStore
	if stateDir != "" {
		store = persistence.NewCalibrationStore(filepath.Join(stateDir, "calibrations.json"))
	}

	console, err := interactive.New(c, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "piconnect-client: %v\n", err)
		os.Exit(1)
	}

	// Connect up front when a server address was given; otherwise the
	// user starts with the discover command.
	if serverAddr != "" {
		if err := c.Connect(ctx, serverAddr); err != nil {
			fmt.Fprintf(os.Stderr, "piconnect-client: connect %s: %v\n", serverAddr, err)
			os.Exit(1)
		}
		if err := c.OpenSession(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "piconnect-client: open session: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(console.Stdout(), "Connected to %q at %s\n", c.ServerName(), serverAddr)
	}

	go console.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}
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
