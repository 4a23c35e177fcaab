// Package interactive provides the interactive command-line interface
// for the PiConnect client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/piconnect/piconnect-go/pkg/client"
	"github.com/piconnect/piconnect-go/pkg/job"
	"github.com/piconnect/piconnect-go/pkg/persistence"
	"github.com/piconnect/piconnect-go/pkg/registry"
	"github.com/piconnect/piconnect-go/pkg/wire"
)

// Console handles interactive mode for piconnect-client.
type Console struct {
	c     *client.Client
	rl    *readline.Instance
	store *persistence.CalibrationStore

	// calibrations holds the result of the most recent calibrate job
	// per device. Capture jobs need them to decode the sample stream.
	calibrations map[string]wire.CalibrationResult

	// reserved tracks devices reserved from this console so that a
	// bare "release" can return all of them.
	reserved map[string]bool
}

// New creates a new interactive console around a client. A non-nil
// store persists calibration results across client runs.
func New(c *client.Client, store *persistence.CalibrationStore) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "piconnect> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	cs := &Console{
		c:            c,
		rl:           rl,
		store:        store,
		calibrations: make(map[string]wire.CalibrationResult),
		reserved:     make(map[string]bool),
	}

	if store != nil {
		state, err := store.Load()
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "Warning: failed to load calibrations: %v\n", err)
		} else if state != nil {
			for _, cal := range state.Calibrations {
				cs.calibrations[cal.DeviceID] = wire.CalibrationResult{
					DeviceID:  cal.DeviceID,
					StartByte: cal.StartByte,
					Offset:    cal.Offset,
				}
			}
			if len(state.Calibrations) > 0 {
				fmt.Fprintf(rl.Stdout(), "Loaded %d stored calibration(s)\n", len(state.Calibrations))
			}
		}
	}

	return cs, nil
}

// Stdout returns a writer that properly coordinates with the readline
// input. Use this for log output to avoid interfering with the prompt.
func (cs *Console) Stdout() io.Writer {
	return cs.rl.Stdout()
}

// Run starts the interactive command loop.
func (cs *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer cs.rl.Close()

	go cs.printEvents(ctx)

	cs.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := cs.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(cs.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			cs.printHelp()

		case "discover":
			cs.cmdDiscover(ctx)

		case "connect":
			cs.cmdConnect(ctx, args)

		case "devices", "list", "ls":
			cs.cmdDevices(ctx)

		case "reserve":
			cs.cmdReserve(ctx, args)

		case "release":
			cs.cmdRelease(ctx, args)

		case "calibrate":
			cs.cmdCalibrate(ctx, args)

		case "capture":
			cs.cmdCapture(ctx, args)

		case "status":
			cs.cmdStatus(ctx, args)

		case "cancel":
			cs.cmdCancel(ctx, args)

		case "fetch":
			cs.cmdFetch(ctx, args)

		case "close":
			cs.cmdClose(ctx)

		case "quit", "exit", "q":
			fmt.Fprintln(cs.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(cs.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (cs *Console) printHelp() {
	fmt.Fprintln(cs.rl.Stdout(), `
PiConnect Client Commands:
  Connection:
    discover                         - Find a board server via mDNS and connect
    connect <host:port>              - Connect to a board server directly
    close                            - Close the session

  Devices:
    devices                          - List attached sensors
    reserve <device-id>...           - Reserve devices for this session
    release [device-id]...           - Release devices (all reserved when omitted)

  Measurement:
    calibrate <device-id>...         - Run a calibration job
    capture <seconds> <device-id>[=name]... - Run a capture job (calibrate first)
    status <job-id>                  - Show job status
    cancel <job-id>                  - Cancel a running job
    fetch <artifact-id> [file]       - Download a measurement file

  General:
    help                             - Show this help
    quit                             - Exit`)
}

// printEvents forwards job status events to the console output.
func (cs *Console) printEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-cs.c.Events():
			if !ok {
				return
			}
			line := fmt.Sprintf("[EVENT] job %s: %s", shortID(ev.JobID), job.State(ev.JobStatus))
			if ev.Detail != "" {
				line += " (" + ev.Detail + ")"
			}
			if ev.DeviceID != "" {
				line += " device=" + ev.DeviceID
			}
			fmt.Fprintln(cs.rl.Stdout(), line)
		}
	}
}

func (cs *Console) cmdDiscover(ctx context.Context) {
	fmt.Fprintln(cs.rl.Stdout(), "Discovering board servers...")
	svc, err := cs.c.ConnectDiscovered(ctx, 30*time.Second)
	if err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "Discovery failed: %v\n", err)
		return
	}
	fmt.Fprintf(cs.rl.Stdout(), "Found %s (%s:%d, %d devices", svc.ServerName, svc.Host, svc.Port, svc.DeviceCount)
	if svc.Degraded {
		fmt.Fprint(cs.rl.Stdout(), ", degraded")
	}
	fmt.Fprintln(cs.rl.Stdout(), ")")
	cs.openSession(ctx)
}

func (cs *Console) cmdConnect(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(cs.rl.Stdout(), "Usage: connect <host:port>")
		return
	}
	if err := cs.c.Connect(ctx, args[0]); err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}
	cs.openSession(ctx)
}

func (cs *Console) openSession(ctx context.Context) {
	if err := cs.c.OpenSession(ctx); err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "OpenSession failed: %v\n", err)
		return
	}
	fmt.Fprintf(cs.rl.Stdout(), "Session %s open on %q\n", shortID(cs.c.SessionID()), cs.c.ServerName())
}

func (cs *Console) cmdDevices(ctx context.Context) {
	devices, err := cs.c.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "ListDevices failed: %v\n", err)
		return
	}
	if len(devices) == 0 {
		fmt.Fprintln(cs.rl.Stdout(), "No devices attached")
		return
	}
	for _, d := range devices {
		line := fmt.Sprintf("  %-20s %-10s %s", d.ID, registry.DeviceState(d.State), d.Name)
		if d.Serial != "" && d.Serial != "-" {
			line += " (serial " + d.Serial + ")"
		}
		if cal, ok := cs.calibrations[d.ID]; ok {
			line += fmt.Sprintf(" [calibrated: startByte=0x%02x offset=%.2f]", cal.StartByte, cal.Offset)
		}
		fmt.Fprintln(cs.rl.Stdout(), line)
	}
}

func (cs *Console) cmdReserve(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(cs.rl.Stdout(), "Usage: reserve <device-id>...")
		return
	}
	if err := cs.c.Reserve(ctx, args); err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "Reserve failed: %v\n", err)
		return
	}
	for _, id := range args {
		cs.reserved[id] = true
	}
	fmt.Fprintf(cs.rl.Stdout(), "Reserved %d device(s)\n", len(args))
}

func (cs *Console) cmdRelease(ctx context.Context, args []string) {
	ids := args
	if len(ids) == 0 {
		for id := range cs.reserved {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(cs.rl.Stdout(), "Nothing to release")
		return
	}
	if err := cs.c.Release(ctx, ids); err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "Release failed: %v\n", err)
		return
	}
	for _, id := range ids {
		delete(cs.reserved, id)
	}
	fmt.Fprintf(cs.rl.Stdout(), "Released %d device(s)\n", len(ids))
}

func (cs *Console) cmdCalibrate(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(cs.rl.Stdout(), "Usage: calibrate <device-id>...")
		return
	}
	targets := make([]wire.JobTarget, 0, len(args))
	for _, id := range args {
		targets = append(targets, wire.JobTarget{DeviceID: id})
	}
	jobID, err := cs.c.SubmitJob(ctx, wire.JobCalibrate, targets, 0)
	if err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "SubmitJob failed: %v\n", err)
		return
	}
	fmt.Fprintf(cs.rl.Stdout(), "Calibration job %s submitted\n", shortID(jobID))

	status, err := cs.waitForJob(ctx, jobID, time.Minute)
	if err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "Job wait failed: %v\n", err)
		return
	}
	if job.State(status.Status) != job.StateCompleted {
		fmt.Fprintf(cs.rl.Stdout(), "Calibration %s: %s\n", job.State(status.Status), status.Error)
		return
	}
	for _, cal := range status.Calibrations {
		cs.calibrations[cal.DeviceID] = cal
		if cs.store != nil {
			if err := cs.store.Put(cal); err != nil {
				fmt.Fprintf(cs.rl.Stdout(), "Warning: failed to persist calibration: %v\n", err)
			}
		}
		fmt.Fprintf(cs.rl.Stdout(), "  %s: startByte=0x%02x offset=%.2f\n",
			cal.DeviceID, cal.StartByte, cal.Offset)
	}
}

func (cs *Console) cmdCapture(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(cs.rl.Stdout(), "Usage: capture <seconds> <device-id>[=name]...")
		return
	}
	seconds, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || seconds == 0 {
		fmt.Fprintf(cs.rl.Stdout(), "Invalid duration: %s\n", args[0])
		return
	}

	targets := make([]wire.JobTarget, 0, len(args)-1)
	for _, arg := range args[1:] {
		id, name, _ := strings.Cut(arg, "=")
		cal, ok := cs.calibrations[id]
		if !ok {
			fmt.Fprintf(cs.rl.Stdout(), "Device %s is not calibrated (run 'calibrate %s' first)\n", id, id)
			return
		}
		targets = append(targets, wire.JobTarget{
			DeviceID:  id,
			Name:      name,
			Offset:    cal.Offset,
			StartByte: cal.StartByte,
		})
	}

	jobID, err := cs.c.SubmitJob(ctx, wire.JobCapture, targets, uint32(seconds))
	if err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "SubmitJob failed: %v\n", err)
		return
	}
	fmt.Fprintf(cs.rl.Stdout(), "Capture job %s submitted (%ds)\n", shortID(jobID), seconds)

	status, err := cs.waitForJob(ctx, jobID, time.Duration(seconds)*time.Second+time.Minute)
	if err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "Job wait failed: %v\n", err)
		return
	}
	if job.State(status.Status) != job.StateCompleted {
		fmt.Fprintf(cs.rl.Stdout(), "Capture %s: %s\n", job.State(status.Status), status.Error)
		return
	}
	for _, id := range status.ArtifactIDs {
		fmt.Fprintf(cs.rl.Stdout(), "  Artifact %s (fetch with 'fetch %s')\n", id, id)
	}
}

func (cs *Console) cmdStatus(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(cs.rl.Stdout(), "Usage: status <job-id>")
		return
	}
	status, err := cs.c.JobStatus(ctx, args[0])
	if err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "JobStatus failed: %v\n", err)
		return
	}
	fmt.Fprintf(cs.rl.Stdout(), "Job %s: %s\n", shortID(status.JobID), job.State(status.Status))
	if status.Error != "" {
		fmt.Fprintf(cs.rl.Stdout(), "  Error: %s\n", status.Error)
	}
	for _, id := range status.ArtifactIDs {
		fmt.Fprintf(cs.rl.Stdout(), "  Artifact: %s\n", id)
	}
	for _, cal := range status.Calibrations {
		fmt.Fprintf(cs.rl.Stdout(), "  Calibration %s: startByte=0x%02x offset=%.2f\n",
			cal.DeviceID, cal.StartByte, cal.Offset)
	}
}

func (cs *Console) cmdCancel(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(cs.rl.Stdout(), "Usage: cancel <job-id>")
		return
	}
	if err := cs.c.CancelJob(ctx, args[0]); err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "CancelJob failed: %v\n", err)
		return
	}
	fmt.Fprintln(cs.rl.Stdout(), "Cancellation requested")
}

func (cs *Console) cmdFetch(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(cs.rl.Stdout(), "Usage: fetch <artifact-id> [file]")
		return
	}

	// Download to a temp name first so a failed fetch leaves nothing.
	tmp, err := os.CreateTemp(".", ".piconnect-fetch-*")
	if err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "Fetch failed: %v\n", err)
		return
	}
	info, err := cs.c.FetchArtifact(ctx, args[0], tmp)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		fmt.Fprintf(cs.rl.Stdout(), "Fetch failed: %v\n", err)
		return
	}

	dest := info.Filename
	if len(args) == 2 {
		dest = args[1]
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		fmt.Fprintf(cs.rl.Stdout(), "Fetch failed: %v\n", err)
		return
	}
	fmt.Fprintf(cs.rl.Stdout(), "Saved %s (%d bytes, digest verified)\n", dest, info.Size)
}

func (cs *Console) cmdClose(ctx context.Context) {
	if err := cs.c.CloseSession(ctx); err != nil {
		fmt.Fprintf(cs.rl.Stdout(), "CloseSession failed: %v\n", err)
		return
	}
	cs.reserved = make(map[string]bool)
	fmt.Fprintln(cs.rl.Stdout(), "Session closed")
}

// waitForJob polls the job status until it reaches a terminal state.
func (cs *Console) waitForJob(ctx context.Context, jobID string, limit time.Duration) (*wire.JobStatusResponsePayload, error) {
	deadline := time.Now().Add(limit)
	for {
		status, err := cs.c.JobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.State(status.Status).IsTerminal() {
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, fmt.Errorf("job %s still %s after %s", shortID(jobID), job.State(status.Status), limit)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
