// Package api provides HTTP handlers for the Launchpad API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/api/openapi"
	"github.com/artpar/launchpad/internal/shell/logsink"
	"github.com/artpar/launchpad/internal/shell/metrics"
	"github.com/artpar/launchpad/internal/shell/orchestrator"
	"github.com/artpar/launchpad/internal/shell/tracker"
)

// maxLogTail caps the tail query parameter of the logs endpoint.
const maxLogTail = 5000

// Orchestrator is the part of *orchestrator.Orchestrator the API drives.
type Orchestrator interface {
	DeployAsync(ctx context.Context, req orchestrator.DeployRequest) (<-chan orchestrator.Outcome, error)
	InProgress(deploymentID string) bool
	FindByDeployment(ctx context.Context, deploymentID string) (string, bool)
	Status(ctx context.Context, containerID string) domain.ContainerStatus
	RecentLogs(ctx context.Context, containerID string, tail int) string
	Stop(ctx context.Context, containerID string) orchestrator.StopReport
	List(ctx context.Context) []domain.DeploymentSummary
}

// Pinger checks that the container runtime is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the handler. Tracker, Events and Gatherer
// are optional.
type Deps struct {
	Orchestrator Orchestrator
	Runtime      Pinger
	Tracker      *tracker.Tracker
	Events       *logsink.Hub
	Metrics      *metrics.Recorder
	Gatherer     prometheus.Gatherer
	URLFor       func(port int) string
	Logger       *slog.Logger
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	orch     Orchestrator
	runtime  Pinger
	records  *tracker.Tracker
	events   *logsink.Hub
	metrics  *metrics.Recorder
	gatherer prometheus.Gatherer
	urlFor   func(port int) string
	spec     *openapi.Generator
	logger   *slog.Logger

	// closing ends open event streams when the server shuts down.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	records := deps.Tracker
	if records == nil {
		records = tracker.New(logger)
	}
	events := deps.Events
	if events == nil {
		events = logsink.NewHub(logsink.DefaultHistorySize, logsink.DefaultMaxDeployments)
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	urlFor := deps.URLFor
	if urlFor == nil {
		urlFor = func(port int) string { return coredeployment.ServiceURL("", port) }
	}

	h := &Handler{
		orch:     deps.Orchestrator,
		runtime:  deps.Runtime,
		records:  records,
		events:   events,
		metrics:  deps.Metrics,
		gatherer: gatherer,
		urlFor:   urlFor,
		spec:     openapi.NewGenerator(openapi.WithErrorModel(ErrorResponse{})),
		logger:   logger.With("component", "api"),
		closing:  make(chan struct{}),
	}
	h.spec.Register(operations()...)
	return h
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.Get("/openapi.json", h.spec.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleCreateDeployment)
			r.Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
			r.Get("/{id}/logs", h.handleDeploymentLogs)
			r.Get("/{id}/events", h.handleDeploymentEvents)
			r.Post("/{id}/stop", h.handleStopDeployment)
		})
	})

	return r
}

// CloseStreams ends every open event stream and makes new ones return after
// their backlog. Register it with http.Server.RegisterOnShutdown so followers
// do not hold a graceful shutdown open.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request counts and latency by route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.HTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.runtime == nil || h.runtime.Ping(ctx) != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req CreateDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	// Validate required fields
	if req.DeploymentID == "" {
		h.writeError(w, http.StatusBadRequest, "deployment_id is required", "validation_error")
		return
	}
	if err := coredeployment.ValidateDeploymentID(req.DeploymentID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	if strings.TrimSpace(req.SourceDir) == "" {
		h.writeError(w, http.StatusBadRequest, "source_dir is required", "validation_error")
		return
	}

	done, err := h.orch.DeployAsync(r.Context(), orchestrator.DeployRequest{
		DeploymentID: req.DeploymentID,
		SourceDir:    req.SourceDir,
		Env:          req.Env,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrDeploymentInProgress) {
			h.writeError(w, http.StatusConflict, "a deploy for this deployment is already in progress", "deployment_in_progress")
			return
		}
		h.logger.Error("failed to admit deploy", "deployment_id", req.DeploymentID, "error", err)
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	go h.awaitOutcome(req.DeploymentID, done)

	h.logger.Info("deploy accepted", "deployment_id", req.DeploymentID)
	h.writeJSON(w, http.StatusAccepted, AcceptedResponse{
		DeploymentID: req.DeploymentID,
		Status:       string(domain.StatusPending),
		ImageTag:     coredeployment.ImageTag(req.DeploymentID),
		EventsURL:    fmt.Sprintf("/api/v1/deployments/%s/events", req.DeploymentID),
	})
}

func (h *Handler) awaitOutcome(deploymentID string, done <-chan orchestrator.Outcome) {
	outcome, ok := <-done
	if !ok {
		return
	}
	if outcome.Err != nil {
		h.logger.Warn("deploy finished with error", "deployment_id", deploymentID, "error", outcome.Err)
		return
	}
	h.logger.Info("deploy finished", "deployment_id", deploymentID, "url", outcome.Result.URL)
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	records := h.records.List()
	known := make(map[string]struct{}, len(records))

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(records)),
	}
	for _, d := range records {
		known[d.ID] = struct{}{}
		resp.Deployments = append(resp.Deployments, h.deploymentToResponse(d))
	}

	// Containers the tracker has not seen yet, e.g. before the first reconcile.
	for _, s := range h.orch.List(r.Context()) {
		if _, ok := known[s.DeploymentID]; ok {
			continue
		}
		known[s.DeploymentID] = struct{}{}
		resp.Deployments = append(resp.Deployments, h.summaryToResponse(s))
	}
	resp.Total = len(resp.Deployments)

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var resp DeploymentResponse
	if d, ok := h.records.Get(id); ok {
		resp = h.deploymentToResponse(d)
	} else {
		s, found := h.findSummary(r.Context(), id)
		if !found {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		resp = h.summaryToResponse(s)
	}

	if resp.ContainerID != "" {
		resp.Container = containerStatusResponse(h.orch.Status(r.Context(), resp.ContainerID))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tail := 0
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLogTail {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("tail must be between 1 and %d", maxLogTail), "validation_error")
			return
		}
		tail = n
	}

	containerID, ok := h.containerFor(r.Context(), id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "deployment has no container", "container_not_found")
		return
	}

	h.writeJSON(w, http.StatusOK, LogsResponse{
		DeploymentID: id,
		ContainerID:  containerID,
		Tail:         tail,
		Logs:         h.orch.RecentLogs(r.Context(), containerID, tail),
	})
}

func (h *Handler) handleStopDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.orch.InProgress(id) {
		h.writeError(w, http.StatusConflict, "a deploy for this deployment is in progress", "deployment_in_progress")
		return
	}

	containerID, ok := h.containerFor(r.Context(), id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "deployment has no container", "container_not_found")
		return
	}

	report := h.orch.Stop(r.Context(), containerID)
	resp := StopResponse{
		DeploymentID: id,
		ContainerID:  report.ContainerID,
		Stopped:      report.Stopped,
		Removed:      report.Removed,
	}
	if report.Err != nil {
		resp.Error = report.Err.Error()
	}

	if !report.OK() {
		h.logger.Warn("stop incomplete", "deployment_id", id, "container_id", containerID, "error", report.Err)
		h.writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	if err := h.records.MarkStopped(id); err != nil {
		h.logger.Warn("failed to record stop", "deployment_id", id, "error", err)
	}
	h.logger.Info("deployment stopped", "deployment_id", id, "container_id", containerID)

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// containerFor resolves the container of a deployment, preferring the
// runtime's view over the tracker's.
func (h *Handler) containerFor(ctx context.Context, id string) (string, bool) {
	if containerID, ok := h.orch.FindByDeployment(ctx, id); ok {
		return containerID, true
	}
	if d, ok := h.records.Get(id); ok && d.ContainerID != "" {
		return d.ContainerID, true
	}
	return "", false
}

func (h *Handler) findSummary(ctx context.Context, id string) (domain.DeploymentSummary, bool) {
	var found domain.DeploymentSummary
	ok := false
	for _, s := range h.orch.List(ctx) {
		if s.DeploymentID != id {
			continue
		}
		if !ok || s.State == "running" {
			found, ok = s, true
		}
	}
	return found, ok
}

func (h *Handler) deploymentToResponse(d domain.Deployment) DeploymentResponse {
	return DeploymentResponse{
		ID:           d.ID,
		AttemptID:    d.AttemptID,
		Status:       string(d.Status),
		InProgress:   h.orch.InProgress(d.ID),
		ImageTag:     d.ImageTag,
		ContainerID:  d.ContainerID,
		Port:         d.Port,
		URL:          d.URL,
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		StartedAt:    d.StartedAt,
		StoppedAt:    d.StoppedAt,
	}
}

func (h *Handler) summaryToResponse(s domain.DeploymentSummary) DeploymentResponse {
	resp := DeploymentResponse{
		ID:          s.DeploymentID,
		Status:      string(domain.StatusStopped),
		InProgress:  h.orch.InProgress(s.DeploymentID),
		ImageTag:    s.Image,
		ContainerID: s.ContainerID,
		Port:        s.Port,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.CreatedAt,
	}
	if s.State == "running" {
		resp.Status = string(domain.StatusRunning)
		resp.URL = h.urlFor(s.Port)
	}
	return resp
}
