package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/jobs"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

// Outbox thresholds reported by the health check.
const (
	pendingWarnThreshold   = 1000
	deadLetterErrThreshold = 100
)

// JobService is the part of the job manager the handlers use.
type JobService interface {
	CreateJob(ctx context.Context, keyword string, targetCount, priority int) (*database.SearchJob, error)
	GetJob(ctx context.Context, id string) (*database.SearchJob, error)
	ListJobs(ctx context.Context, limit int) ([]*database.SearchJob, error)
	GetListings(ctx context.Context, id string, limit, offset int) (*jobs.ListingsPage, error)
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

// OutboxStats reports the relay backlog.
type OutboxStats interface {
	Stats(ctx context.Context) (database.RelayStats, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerOptions holds the optional health sources and request defaults.
// Nil health sources are skipped.
type HandlerOptions struct {
	Outbox        OutboxStats
	Database      Pinger
	DefaultTarget int
}

type Handlers struct {
	jobs          JobService
	outbox        OutboxStats
	db            Pinger
	defaultTarget int
	logger        *slog.Logger
}

func NewHandlers(jobs JobService, opts HandlerOptions, logger *slog.Logger) *Handlers {
	if opts.DefaultTarget < 1 {
		opts.DefaultTarget = models.DefaultTargetCount
	}
	return &Handlers{
		jobs:          jobs,
		outbox:        opts.Outbox,
		db:            opts.Database,
		defaultTarget: opts.DefaultTarget,
		logger:        logger,
	}
}

// CreateSearchRequest represents a new search job request
type CreateSearchRequest struct {
	Keyword     string `json:"keyword"`
	TargetCount int    `json:"target_count"`
	Priority    int    `json:"priority"`
}

// CreateSearchResponse represents the job creation response
type CreateSearchResponse struct {
	JobID       string             `json:"job_id"`
	Status      database.JobStatus `json:"status"`
	Keyword     string             `json:"keyword"`
	TargetCount int                `json:"target_count"`
	Message     string             `json:"message"`
}

// CreateSearch queues a keyword search
func (h *Handlers) CreateSearch(w http.ResponseWriter, r *http.Request) {
	var req CreateSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.TargetCount == 0 {
		req.TargetCount = h.defaultTarget
	}

	job, err := h.jobs.CreateJob(r.Context(), req.Keyword, req.TargetCount, req.Priority)
	if err != nil {
		if errors.Is(err, models.ErrInvalidQuery) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateSearchResponse{
		JobID:       job.ID.String(),
		Status:      job.Status,
		Keyword:     job.Keyword,
		TargetCount: job.TargetCount,
		Message:     "Job created successfully",
	})
}

// GetSearch handles job status retrieval
func (h *Handlers) GetSearch(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondLookupError(w, err, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListSearches returns the most recent jobs, newest first
func (h *Handlers) ListSearches(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.queryInt(w, r, "limit")
	if !ok {
		return
	}

	list, err := h.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*database.SearchJob{}
	}

	h.respondJSON(w, http.StatusOK, list)
}

// GetSearchListings pages through the records collected by a job
func (h *Handlers) GetSearchListings(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := h.queryInt(w, r, "offset")
	if !ok {
		return
	}

	page, err := h.jobs.GetListings(r.Context(), chi.URLParam(r, "jobID"), limit, offset)
	if err != nil {
		h.respondLookupError(w, err, "failed to get listings")
		return
	}

	h.respondJSON(w, http.StatusOK, page)
}

// GetStats handles statistics retrieval
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// Health reports service status together with the outbox backlog
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("database ping failed", "error", err)
			health["status"] = "error"
			health["message"] = "Database unreachable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}
	}

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		switch {
		case err != nil:
			h.logger.Warn("failed to read outbox stats", "error", err)
			health["status"] = "warning"
			health["message"] = "Outbox status unavailable"
		case stats.DeadLetter > deadLetterErrThreshold:
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		case stats.Pending > pendingWarnThreshold:
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if err == nil {
			health["outbox"] = stats
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondLookupError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, jobs.ErrInvalidJobID):
		h.respondError(w, http.StatusBadRequest, "invalid job id")
	case errors.Is(err, database.ErrJobNotFound):
		h.respondError(w, http.StatusNotFound, "job not found")
	default:
		h.logger.Error(message, "error", err)
		h.respondError(w, http.StatusInternalServerError, message)
	}
}

// queryInt reads an optional integer query parameter. Zero means unset.
func (h *Handlers) queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		h.respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
