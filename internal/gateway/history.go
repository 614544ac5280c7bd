package gateway

import (
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/askgate/internal/store"
)

// HistoryHandler serves the recent-job audit listing.
type HistoryHandler struct {
	history store.JobHistory
	token   string
}

// NewHistoryHandler creates the handler. Uses the worker token for auth.
func NewHistoryHandler(history store.JobHistory, token string) *HistoryHandler {
	return &HistoryHandler{history: history, token: token}
}

// RegisterRoutes registers the history routes on the given mux.
func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/jobs/recent", h.handleRecent)
}

func (h *HistoryHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": records})
}
