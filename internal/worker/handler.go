package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/askgate/internal/queue"
)

// triggerRequest is the optional body of a worker invocation.
type triggerRequest struct {
	Type string     `json:"type,omitempty"` // "chained", "direct_job", "diagnostic"
	Job  *queue.Job `json:"job,omitempty"`
}

// Handler exposes the coordinator over HTTP for chained triggers, external
// schedulers and diagnostics.
type Handler struct {
	coord *Coordinator
	token string
}

// NewHandler creates the worker trigger handler.
func NewHandler(coord *Coordinator, token string) *Handler {
	return &Handler{coord: coord, token: token}
}

// RegisterRoutes registers the worker endpoint on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/worker", h.handleTrigger)
	mux.HandleFunc("GET /v1/worker", h.handleTrigger)
}

// authorized accepts the shared secret as a bearer header, a query
// parameter, or the scheduler header. No token configured = open (dev mode).
func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	if auth := r.Header.Get("Authorization"); auth == "Bearer "+h.token {
		return true
	}
	if r.URL.Query().Get("token") == h.token {
		return true
	}
	if r.Header.Get("X-Askgate-Scheduler") == h.token {
		return true
	}
	return false
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var trigger triggerRequest
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err == nil && len(body) > 0 {
			if err := json.Unmarshal(body, &trigger); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
				return
			}
		}
	}

	switch trigger.Type {
	case TriggerDiagnostic:
		depth, err := h.coord.jobs.Depth(r.Context())
		if err != nil {
			writeJSON(w, http.StatusOK, Result{Status: "error", Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, Result{Status: "no_jobs", RemainingJobs: depth})
		return

	case TriggerDirectJob:
		if trigger.Job == nil || trigger.Job.ChannelID == "" || trigger.Job.QuestionText == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "direct_job requires a job with channel_id and question_text"})
			return
		}
		if trigger.Job.ID == "" {
			trigger.Job.ID = uuid.NewString()
		}
		if err := h.coord.jobs.Enqueue(r.Context(), *trigger.Job); err != nil {
			writeJSON(w, http.StatusOK, Result{Status: "error", Error: err.Error()})
			return
		}
		slog.Info("worker: direct job enqueued", "job", trigger.Job.ID)
	}

	// Detach from the request context: a chained caller disconnects long
	// before the pass finishes, and that must not abort processing.
	writeJSON(w, http.StatusOK, h.coord.RunOnce(context.WithoutCancel(r.Context())))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
