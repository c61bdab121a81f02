// ABOUTME: HTTP route layer over the gateway orchestrator
// ABOUTME: Maps lifecycle, channel, pairing and credential-sync routes to JSON responses

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/clawhuddle/internal/gatewaycfg"
	"github.com/2389/clawhuddle/internal/orchestrator"
	"github.com/2389/clawhuddle/internal/runtime"
	"github.com/2389/clawhuddle/internal/store"
	"github.com/2389/clawhuddle/internal/tasks"
)

const maxBodyBytes = 1 << 20

// Lifecycle is the orchestrator surface the routes drive.
type Lifecycle interface {
	Provision(ctx context.Context, orgID, memberID string) (*orchestrator.Result, error)
	Start(ctx context.Context, orgID, memberID string) (*orchestrator.Result, error)
	Stop(ctx context.Context, orgID, memberID string) (*orchestrator.Result, error)
	Redeploy(ctx context.Context, orgID, memberID string) (*orchestrator.Result, error)
	Remove(ctx context.Context, orgID, memberID string) (*orchestrator.Result, error)
	Status(ctx context.Context, orgID, memberID string) (*orchestrator.Result, error)
	ApprovePairing(ctx context.Context, orgID, memberID, channel, code string) (string, error)
	ListPairingRequests(ctx context.Context, orgID, memberID, channel string) (string, error)
	SyncCredentials(ctx context.Context, orgID string) (int, error)
}

// Store is what the channel routes read and write directly.
type Store interface {
	GetMember(ctx context.Context, orgID, memberID string) (*store.Member, error)
	store.ChannelStore
}

// Enqueuer accepts follow-up tasks. tasks.Queue satisfies it.
type Enqueuer interface {
	Enqueue(t tasks.Task) (bool, error)
}

// Handler serves the gateway API.
type Handler struct {
	gateways Lifecycle
	store    Store
	tasks    Enqueuer
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(gateways Lifecycle, s Store, queue Enqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gateways: gateways,
		store:    s,
		tasks:    queue,
		logger:   logger.With("component", "api"),
	}
}

// Register adds every route to mux. wrap, if non-nil, decorates each handler
// (authentication).
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	handle := func(pattern string, fn http.HandlerFunc) {
		var handler http.Handler = fn
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.Handle(pattern, handler)
	}

	const gw = "/api/orgs/{orgID}/gateways/members/{memberID}"
	handle("POST "+gw, h.handleProvision)
	handle("DELETE "+gw, h.lifecycle(h.gateways.Remove))
	handle("POST "+gw+"/start", h.lifecycle(h.gateways.Start))
	handle("POST "+gw+"/stop", h.lifecycle(h.gateways.Stop))
	handle("POST "+gw+"/redeploy", h.lifecycle(h.gateways.Redeploy))
	handle("GET "+gw+"/status", h.lifecycle(h.gateways.Status))

	const ch = "/api/orgs/{orgID}/members/{memberID}/channels/{channel}"
	handle("PUT "+ch, h.handleSetChannel)
	handle("DELETE "+ch, h.handleDeleteChannel)
	handle("POST "+ch+"/pair", h.handleApprovePairing)
	handle("GET "+ch+"/pair", h.handleListPairing)

	handle("POST /api/orgs/{orgID}/credentials/sync", h.handleSyncCredentials)
}

type envelope struct {
	Data any `json:"data"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}

// statusFor maps an operation error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrMemberNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.Is(err, orchestrator.ErrAlreadyProvisioned),
		errors.Is(err, orchestrator.ErrNotRunning):
		return http.StatusConflict, "conflict"
	case orchestrator.IsPrecondition(err):
		return http.StatusBadRequest, "gateway_error"
	case errors.Is(err, runtime.ErrExecFailed), errors.Is(err, runtime.ErrExecTimeout), errors.Is(err, runtime.ErrEngine):
		return http.StatusBadGateway, "gateway_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeErrorBody(w, status, code, err.Error())
}

func decodeBody(r *http.Request, w http.ResponseWriter, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) handleProvision(w http.ResponseWriter, r *http.Request) {
	res, err := h.gateways.Provision(r.Context(), r.PathValue("orgID"), r.PathValue("memberID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type lifecycleFunc func(ctx context.Context, orgID, memberID string) (*orchestrator.Result, error)

func (h *Handler) lifecycle(op lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := op(r.Context(), r.PathValue("orgID"), r.PathValue("memberID"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ChannelRequest is the body of PUT .../channels/{channel}.
type ChannelRequest struct {
	Token string `json:"token"`
}

// ChannelResponse reports a channel change and whether a redeploy was queued.
type ChannelResponse struct {
	Channel    string `json:"channel"`
	Configured bool   `json:"configured"`
	Redeploy   bool   `json:"redeploy_queued"`
}

// channelMember validates the channel and loads the member.
func (h *Handler) channelMember(w http.ResponseWriter, r *http.Request) (*store.Member, string, bool) {
	channel := r.PathValue("channel")
	if !gatewaycfg.IsManagedChannel(channel) {
		h.writeError(w, r, fmt.Errorf("%w: %q", orchestrator.ErrUnknownChannel, channel))
		return nil, "", false
	}
	m, err := h.store.GetMember(r.Context(), r.PathValue("orgID"), r.PathValue("memberID"))
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, r, orchestrator.ErrMemberNotFound)
		return nil, "", false
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("loading member: %w", err))
		return nil, "", false
	}
	return m, channel, true
}

func (h *Handler) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	m, channel, ok := h.channelMember(w, r)
	if !ok {
		return
	}

	var req ChannelRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	if err := h.store.SetChannelToken(r.Context(), m.ID, channel, req.Token); err != nil {
		h.writeError(w, r, fmt.Errorf("saving channel token: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, ChannelResponse{Channel: channel, Configured: true, Redeploy: h.followUp(m)})
}

func (h *Handler) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	m, channel, ok := h.channelMember(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteChannelToken(r.Context(), m.ID, channel); err != nil {
		h.writeError(w, r, fmt.Errorf("deleting channel token: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, ChannelResponse{Channel: channel, Configured: false, Redeploy: h.followUp(m)})
}

// followUp queues a redeploy when the member's gateway is live so it picks
// up the channel change. It reports whether a task was queued.
func (h *Handler) followUp(m *store.Member) bool {
	if s := m.Gateway.Status; s != store.StatusRunning && s != store.StatusDeploying {
		return false
	}
	orgID, memberID := m.OrgID, m.ID
	queued, err := h.tasks.Enqueue(tasks.Redeploy(orgID, memberID, func(ctx context.Context) error {
		_, err := h.gateways.Redeploy(ctx, orgID, memberID)
		return err
	}))
	if err != nil {
		h.logger.Warn("queueing redeploy failed", "org_id", orgID, "member_id", memberID, "error", err)
		return false
	}
	return queued
}

// PairRequest is the body of POST .../pair.
type PairRequest struct {
	Code string `json:"code"`
}

// PairResponse carries the gateway's pairing command output.
type PairResponse struct {
	Output string `json:"output"`
}

func (h *Handler) handleApprovePairing(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	out, err := h.gateways.ApprovePairing(r.Context(), r.PathValue("orgID"), r.PathValue("memberID"), r.PathValue("channel"), req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PairResponse{Output: out})
}

func (h *Handler) handleListPairing(w http.ResponseWriter, r *http.Request) {
	out, err := h.gateways.ListPairingRequests(r.Context(), r.PathValue("orgID"), r.PathValue("memberID"), r.PathValue("channel"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PairResponse{Output: out})
}

// SyncResponse reports how many gateway workspaces received new credentials.
type SyncResponse struct {
	Updated int `json:"updated"`
}

func (h *Handler) handleSyncCredentials(w http.ResponseWriter, r *http.Request) {
	n, err := h.gateways.SyncCredentials(r.Context(), r.PathValue("orgID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Updated: n})
}
