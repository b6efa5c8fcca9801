// Package handler exposes the registry backend over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"zonecore/internal/commitlog"
	"zonecore/internal/platform/middleware"
	"zonecore/internal/registry/service"
	"zonecore/internal/sink"
	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

// Service defines the registry operations the HTTP surface exposes.
type Service interface {
	Commit(ctx context.Context, req service.CommitRequest) (service.CommitResult, error)
	Reconstruct(ctx context.Context, req service.ReconstructRequest) (*sink.Snapshot, error)
	ConfirmWatermark(ctx context.Context, consumer string, watermark time.Time) error
	AdvanceCheckpoint(ctx context.Context, t time.Time) error
	Purge(ctx context.Context) error
	Checkpoint(ctx context.Context) (time.Time, map[string]time.Time, error)
}

// Handler handles registry endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a registry Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the registry routes on the chi router.
func (h *Handler) Register(r chi.Router) {
	registryRouter := chi.NewRouter()
	registryRouter.Use(middleware.Recovery(h.logger))
	registryRouter.Use(middleware.RequestID)
	registryRouter.Use(middleware.Logger(h.logger))
	registryRouter.Use(middleware.ContentTypeJSON)

	registryRouter.With(middleware.Timeout(10 * time.Second)).
		Post("/registry/commit", h.handleCommit)
	// Reconstructions scan the whole window; they get a long budget.
	registryRouter.With(middleware.Timeout(5 * time.Minute)).
		Post("/registry/reconstruct", h.handleReconstruct)
	registryRouter.With(middleware.Timeout(10 * time.Second)).
		Post("/registry/checkpoint/confirm", h.handleConfirmWatermark)
	registryRouter.With(middleware.Timeout(10 * time.Second)).
		Post("/registry/checkpoint/advance", h.handleAdvanceCheckpoint)
	registryRouter.With(middleware.Timeout(time.Minute)).
		Post("/registry/checkpoint/purge", h.handlePurge)
	registryRouter.With(middleware.Timeout(10 * time.Second)).
		Get("/registry/checkpoint", h.handleGetCheckpoint)

	r.Mount("/", registryRouter)
}

type commitRequest struct {
	GroupID   string               `json:"group_id"`
	Mutations []commitlog.Mutation `json:"mutations"`
}

type commitResponse struct {
	TransactionID string    `json:"transaction_id"`
	CommittedAt   time.Time `json:"commit_timestamp"`
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Commit(ctx, service.CommitRequest{
		GroupID:   domain.GroupID(req.GroupID),
		Mutations: req.Mutations,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "commit failed", err)
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, commitResponse{
		TransactionID: result.TransactionID.String(),
		CommittedAt:   result.CommittedAt,
	})
}

type reconstructRequest struct {
	ExportDir string    `json:"export_dir"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Kinds     []string  `json:"kinds"`
}

type reconstructedEntity struct {
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type reconstructResponse struct {
	Window struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"window"`
	Kinds map[string]map[string]reconstructedEntity `json:"kinds"`
}

func (h *Handler) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reconstructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	kinds := make([]domain.Kind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kind, err := domain.ParseKind(k)
		if err != nil {
			h.writeError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		kinds = append(kinds, kind)
	}

	snapshot, err := h.service.Reconstruct(ctx, service.ReconstructRequest{
		Export: req.ExportDir,
		Window: commitlog.Window{Start: req.Start, End: req.End},
		Kinds:  kinds,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "reconstruction failed", err)
		return
	}

	resp := reconstructResponse{Kinds: make(map[string]map[string]reconstructedEntity)}
	resp.Window.Start = req.Start
	resp.Window.End = req.End
	for _, kind := range snapshot.Kinds() {
		entities := make(map[string]reconstructedEntity, snapshot.Len(kind))
		for _, e := range snapshot.Entities(kind) {
			entities[e.EntityID.String()] = reconstructedEntity{
				Timestamp: e.EffectiveAt,
				Payload:   e.Payload,
			}
		}
		resp.Kinds[kind.String()] = entities
	}
	h.writeJSON(ctx, w, http.StatusOK, resp)
}

type confirmWatermarkRequest struct {
	Consumer  string    `json:"consumer"`
	Watermark time.Time `json:"watermark"`
}

func (h *Handler) handleConfirmWatermark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req confirmWatermarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.service.ConfirmWatermark(ctx, req.Consumer, req.Watermark); err != nil {
		h.writeServiceError(ctx, w, "watermark confirmation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type advanceCheckpointRequest struct {
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handleAdvanceCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req advanceCheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.service.AdvanceCheckpoint(ctx, req.Timestamp); err != nil {
		h.writeServiceError(ctx, w, "checkpoint advance failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Purge(ctx); err != nil {
		h.writeServiceError(ctx, w, "purge failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkpointResponse struct {
	Checkpoint *time.Time           `json:"checkpoint"`
	Watermarks map[string]time.Time `json:"watermarks"`
}

func (h *Handler) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checkpoint, watermarks, err := h.service.Checkpoint(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "checkpoint lookup failed", err)
		return
	}

	resp := checkpointResponse{Watermarks: watermarks}
	if !checkpoint.IsZero() {
		resp.Checkpoint = &checkpoint
	}
	h.writeJSON(ctx, w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeServiceError maps domain sentinels to HTTP statuses. Reconstruction
// faults surface with enough detail for the operator to locate the gap or
// corrupt record.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sentinel.ErrWindowGap),
		errors.Is(err, sentinel.ErrCorruptExportRecord):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, sentinel.ErrCheckpointBlocked),
		errors.Is(err, sentinel.ErrRetentionViolation),
		errors.Is(err, sentinel.ErrTimestampCollision):
		status = http.StatusConflict
	case errors.Is(err, sentinel.ErrClockRegression):
		status = http.StatusServiceUnavailable
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sentinel.ErrInvalidInput):
		status = http.StatusBadRequest
	}

	logFn := h.logger.ErrorContext
	if status < http.StatusInternalServerError {
		logFn = h.logger.WarnContext
	}
	logFn(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"status", status,
		"error", err.Error(),
	)
	h.writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	h.logger.WarnContext(ctx, msg, "request_id", middleware.GetRequestID(ctx), "status", status)
	h.writeJSON(ctx, w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(ctx, "write response failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
}
