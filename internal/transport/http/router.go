package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meldeboks/internal/cleanup"
	"meldeboks/internal/correspondence"
	"meldeboks/internal/correspondence/service"
	"meldeboks/internal/jobs"
	"meldeboks/internal/migration"
	"meldeboks/internal/purge"
	domainerrors "meldeboks/pkg/domain-errors"
)

// Handler exposes the recipient-side correspondence actions plus the
// operational surface: health, metrics, and triggers for the maintenance
// jobs. Maintenance triggers never touch ledgers directly, every trigger
// goes through the job scheduler.
type Handler struct {
	svc       *service.Service
	purger    *purge.Orchestrator
	scheduler jobs.Scheduler
	batcher   *migration.Batcher
	log       *slog.Logger
}

func NewHandler(svc *service.Service, purger *purge.Orchestrator, scheduler jobs.Scheduler, batcher *migration.Batcher, log *slog.Logger) *Handler {
	return &Handler{svc: svc, purger: purger, scheduler: scheduler, batcher: batcher, log: log}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/correspondences/{id}", func(r chi.Router) {
		r.Post("/publish", h.handlePublish)
		r.Post("/fetch", h.handleAction(h.svc.MarkAsFetched))
		r.Post("/read", h.handleAction(h.svc.MarkAsRead))
		r.Post("/confirm", h.handleAction(h.svc.Confirm))
		r.Post("/archive", h.handleAction(h.svc.Archive))
		r.Post("/purge", h.handlePurge)
	})

	r.Post("/ops/cleanup/{job}", h.handleCleanupTrigger)
	r.Post("/ops/migration/start", h.handleMigrationStart)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actionRequest struct {
	PartyUUID  uuid.UUID  `json:"party_uuid"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// handleAction adapts one of the service's status actions onto the common
// request shape. OccurredAt defaults to the server clock.
func (h *Handler) handleAction(action func(ctx context.Context, id, partyUUID uuid.UUID, occurredAt time.Time) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid correspondence id"))
			return
		}
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
			return
		}
		if req.PartyUUID == uuid.Nil {
			writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "party_uuid is required"))
			return
		}
		occurredAt := time.Now().UTC()
		if req.OccurredAt != nil {
			occurredAt = *req.OccurredAt
		}
		if err := action(r.Context(), id, req.PartyUUID, occurredAt); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handlePublish is a sender-side action: no acting party, occurred_at is
// optional.
func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid correspondence id"))
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}
	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}
	if err := h.svc.Publish(r.Context(), id, occurredAt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

type purgeRequest struct {
	By         string     `json:"by"` // "recipient" or "owner"
	PartyUUID  uuid.UUID  `json:"party_uuid"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid correspondence id"))
		return
	}
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}
	var eventType correspondence.DeleteEventType
	switch req.By {
	case "recipient":
		eventType = correspondence.DeleteHardByRecipient
	case "owner":
		eventType = correspondence.DeleteHardByOwner
	default:
		writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "by must be recipient or owner"))
		return
	}
	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}
	err = h.purger.Purge(r.Context(), purge.Request{
		CorrespondenceID: id,
		EventType:        eventType,
		PartyUUID:        req.PartyUUID,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

var cleanupJobs = map[string]string{
	"orphaned-dialogs":     cleanup.JobOrphanedDialogs,
	"perishing-dialogs":    cleanup.JobPerishingDialogs,
	"confirmed-migrated":   cleanup.JobConfirmedMigrated,
	"orphaned-attachments": cleanup.JobOrphanedAttachments,
}

// handleCleanupTrigger enqueues one sweep and answers with the job id so the
// operator can correlate it in the logs.
func (h *Handler) handleCleanupTrigger(w http.ResponseWriter, r *http.Request) {
	jobType, ok := cleanupJobs[chi.URLParam(r, "job")]
	if !ok {
		writeError(w, domainerrors.New(domainerrors.CodeNotFound, "unknown cleanup job"))
		return
	}
	job, err := jobs.New(jobType, struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := h.scheduler.Create(r.Context(), job, jobs.Enqueued())
	if err != nil {
		writeError(w, err)
		return
	}
	h.log.Info("cleanup triggered", "job_type", jobType, "job_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
}

func (h *Handler) handleMigrationStart(w http.ResponseWriter, r *http.Request) {
	if h.batcher == nil {
		writeError(w, domainerrors.New(domainerrors.CodeUnavailable, "migration not configured"))
		return
	}
	if err := h.batcher.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain error codes onto HTTP statuses; everything uncoded
// is a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := domainerrors.CodeInternal
	var de *domainerrors.Error
	if errors.As(err, &de) {
		code = de.Code
		status = httpStatus(de.Code)
	}
	writeJSON(w, status, map[string]string{"error": string(code)})
}

func httpStatus(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeBadRequest:
		return http.StatusBadRequest
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeConflict, domainerrors.CodeAlreadyPurged:
		return http.StatusConflict
	case domainerrors.CodeIllegalTransition, domainerrors.CodeConfirmationNeeded:
		return http.StatusUnprocessableEntity
	case domainerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
