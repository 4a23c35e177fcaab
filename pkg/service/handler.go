package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/piconnect/piconnect-go/pkg/artifact"
	"github.com/piconnect/piconnect-go/pkg/job"
	"github.com/piconnect/piconnect-go/pkg/link"
	"github.com/piconnect/piconnect-go/pkg/registry"
	"github.com/piconnect/piconnect-go/pkg/session"
	"github.com/piconnect/piconnect-go/pkg/wire"
)

// Handler routes session/job protocol requests to the server
// components and builds the responses.
type Handler struct {
	registry   *registry.Registry
	sessions   *session.Manager
	runner     *job.Runner
	store      *artifact.Store
	serverName string
	logger     *slog.Logger
}

// NewHandler creates a request handler over the server components.
func NewHandler(reg *registry.Registry, sessions *session.Manager, runner *job.Runner, store *artifact.Store, serverName string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:   reg,
		sessions:   sessions,
		runner:     runner,
		store:      store,
		serverName: serverName,
		logger:     logger,
	}
}

// Handle processes one request that arrived on the given connection
// and returns the response to send back.
func (h *Handler) Handle(connID string, req *wire.Request) *wire.Response {
	var resp *wire.Response
	switch req.Operation {
	case wire.OpOpenSession:
		resp = h.handleOpenSession(connID, req)
	case wire.OpListDevices:
		resp = h.handleListDevices(req)
	case wire.OpReserve:
		resp = h.handleReserve(connID, req)
	case wire.OpRelease:
		resp = h.handleRelease(connID, req)
	case wire.OpSubmitJob:
		resp = h.handleSubmitJob(connID, req)
	case wire.OpCancelJob:
		resp = h.handleCancelJob(connID, req)
	case wire.OpJobStatus:
		resp = h.handleJobStatus(connID, req)
	case wire.OpFetchArtifact:
		resp = h.handleFetchArtifact(connID, req)
	case wire.OpCloseSession:
		resp = h.handleCloseSession(connID, req)
	default:
		resp = errorResponse(req.MessageID, wire.StatusInvalidParameter,
			fmt.Sprintf("unsupported operation %d", req.Operation))
	}
	return resp
}

// getSession resolves a session id and verifies it is bound to the
// connection the request arrived on.
func (h *Handler) getSession(connID, sessionID string) (*session.Session, error) {
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.ConnectionID != connID {
		return nil, fmt.Errorf("%w: session belongs to another connection", session.ErrUnknownSession)
	}
	return s, nil
}

func (h *Handler) handleOpenSession(connID string, req *wire.Request) *wire.Response {
	var payload wire.OpenSessionPayload
	if err := wire.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidParameter, "malformed payload")
	}

	s := h.sessions.Open(payload.ClientID, payload.ClientName, connID)
	return successResponse(req.MessageID, &wire.OpenSessionResponsePayload{
		SessionID:  s.ID,
		ServerName: h.serverName,
	})
}

func (h *Handler) handleListDevices(req *wire.Request) *wire.Response {
	devices := h.registry.List()
	infos := make([]wire.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, wire.DeviceInfo{
			ID:         d.ID,
			Path:       d.Path,
			Name:       d.Name,
			Serial:     d.Serial,
			Capability: d.Capability,
			State:      uint8(d.State),
		})
	}
	return successResponse(req.MessageID, &wire.ListDevicesResponsePayload{Devices: infos})
}

func (h *Handler) handleReserve(connID string, req *wire.Request) *wire.Response {
	var payload wire.ReservePayload
	if err := wire.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidParameter, "malformed payload")
	}
	if _, err := h.getSession(connID, payload.SessionID); err != nil {
		return statusError(req.MessageID, err)
	}
	if err := h.sessions.Reserve(payload.SessionID, payload.DeviceIDs); err != nil {
		return statusError(req.MessageID, err)
	}
	return successResponse(req.MessageID, nil)
}

func (h *Handler) handleRelease(connID string, req *wire.Request) *wire.Response {
	var payload wire.ReleasePayload
	if err := wire.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidParameter, "malformed payload")
	}
	if _, err := h.getSession(connID, payload.SessionID); err != nil {
		return statusError(req.MessageID, err)
	}
	if err := h.sessions.Release(payload.SessionID, payload.DeviceIDs); err != nil {
		return statusError(req.MessageID, err)
	}
	return successResponse(req.MessageID, nil)
}

func (h *Handler) handleSubmitJob(connID string, req *wire.Request) *wire.Response {
	var payload wire.SubmitJobPayload
	if err := wire.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidParameter, "malformed payload")
	}
	if _, err := h.getSession(connID, payload.SessionID); err != nil {
		return statusError(req.MessageID, err)
	}

	j, err := h.runner.Submit(payload.SessionID, payload.Operation, payload.Targets, int(payload.DurationSeconds))
	if err != nil {
		return statusError(req.MessageID, err)
	}
	return successResponse(req.MessageID, &wire.SubmitJobResponsePayload{JobID: j.ID})
}

// getJob resolves a job id and verifies the session owns it.
func (h *Handler) getJob(connID, sessionID, jobID string) (job.Snapshot, error) {
	if _, err := h.getSession(connID, sessionID); err != nil {
		return job.Snapshot{}, err
	}
	snap, err := h.runner.Get(jobID)
	if err != nil {
		return job.Snapshot{}, err
	}
	if snap.SessionID != sessionID {
		return job.Snapshot{}, fmt.Errorf("%w: job belongs to another session", job.ErrUnknownJob)
	}
	return snap, nil
}

func (h *Handler) handleCancelJob(connID string, req *wire.Request) *wire.Response {
	var payload wire.CancelJobPayload
	if err := wire.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidParameter, "malformed payload")
	}
	if _, err := h.getJob(connID, payload.SessionID, payload.JobID); err != nil {
		return statusError(req.MessageID, err)
	}
	if err := h.runner.Cancel(payload.JobID); err != nil {
		return statusError(req.MessageID, err)
	}
	return successResponse(req.MessageID, nil)
}

func (h *Handler) handleJobStatus(connID string, req *wire.Request) *wire.Response {
	var payload wire.JobStatusPayload
	if err := wire.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidParameter, "malformed payload")
	}
	snap, err := h.getJob(connID, payload.SessionID, payload.JobID)
	if err != nil {
		return statusError(req.MessageID, err)
	}

	return successResponse(req.MessageID, &wire.JobStatusResponsePayload{
		JobID:        snap.ID,
		Status:       uint8(snap.State),
		ArtifactIDs:  snap.ArtifactIDs,
		Calibrations: snap.Calibrations,
		Error:        snap.Error,
	})
}

func (h *Handler) handleFetchArtifact(connID string, req *wire.Request) *wire.Response {
	var payload wire.FetchArtifactPayload
	if err := wire.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidParameter, "malformed payload")
	}
	if _, err := h.getSession(connID, payload.SessionID); err != nil {
		return statusError(req.MessageID, err)
	}

	meta, err := h.store.Get(payload.ArtifactID)
	if err != nil {
		return statusError(req.MessageID, err)
	}
	data, eof, err := h.store.ReadChunk(payload.ArtifactID, payload.Offset, payload.MaxBytes)
	if err != nil {
		return statusError(req.MessageID, err)
	}

	return successResponse(req.MessageID, &wire.FetchArtifactResponsePayload{
		Info: wire.ArtifactInfo{
			ID:        meta.ID,
			JobID:     meta.JobID,
			DeviceID:  meta.DeviceID,
			Filename:  meta.Filename,
			Size:      meta.Size,
			Digest:    meta.Digest,
			CreatedAt: meta.CreatedAt.Unix(),
		},
		Data: data,
		EOF:  eof,
	})
}

func (h *Handler) handleCloseSession(connID string, req *wire.Request) *wire.Response {
	var payload wire.CloseSessionPayload
	if err := wire.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidParameter, "malformed payload")
	}
	if _, err := h.getSession(connID, payload.SessionID); err != nil {
		return statusError(req.MessageID, err)
	}
	if err := h.sessions.Close(payload.SessionID); err != nil {
		return statusError(req.MessageID, err)
	}
	return successResponse(req.MessageID, nil)
}

// successResponse builds a success response, falling back to a bare
// status when the payload cannot be encoded.
func successResponse(messageID uint32, payload any) *wire.Response {
	resp, err := wire.NewResponse(messageID, wire.StatusSuccess, payload)
	if err != nil {
		return &wire.Response{MessageID: messageID, Status: wire.StatusInternal}
	}
	return resp
}

// errorResponse builds an error response with a message payload.
func errorResponse(messageID uint32, status wire.Status, msg string) *wire.Response {
	resp, err := wire.NewResponse(messageID, status, &wire.ErrorPayload{Message: msg})
	if err != nil {
		return &wire.Response{MessageID: messageID, Status: status}
	}
	return resp
}

// statusError maps a component error to its wire status.
func statusError(messageID uint32, err error) *wire.Response {
	return errorResponse(messageID, statusFor(err), err.Error())
}

func statusFor(err error) wire.Status {
	switch {
	case errors.Is(err, registry.ErrUnknownDevice):
		return wire.StatusUnknownDevice
	case errors.Is(err, registry.ErrInvalidTransition):
		return wire.StatusInvalidTransition
	case errors.Is(err, session.ErrUnknownSession):
		return wire.StatusUnknownSession
	case errors.Is(err, session.ErrConflict), errors.Is(err, registry.ErrWrongState):
		return wire.StatusConflict
	case errors.Is(err, session.ErrNotReserved):
		return wire.StatusNotReserved
	case errors.Is(err, job.ErrUnknownJob):
		return wire.StatusUnknownJob
	case errors.Is(err, job.ErrInvalidJob):
		return wire.StatusInvalidParameter
	case errors.Is(err, artifact.ErrNotFound):
		return wire.StatusArtifactMissing
	case errors.Is(err, artifact.ErrOffsetOutOfRange):
		return wire.StatusInvalidParameter
	case errors.Is(err, link.ErrLinkLost):
		return wire.StatusLinkLost
	default:
		return wire.StatusInternal
	}
}
