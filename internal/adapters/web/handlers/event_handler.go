package handlers

import (
	"net/http"
	"strconv"

	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// EventHandler serves the lifecycle journal.
type EventHandler struct {
	Journal ports.EventJournal
}

func NewEventHandler(j ports.EventJournal) *EventHandler {
	return &EventHandler{Journal: j}
}

// HandleList returns the newest events first, up to the limit query
// parameter.
func (h *EventHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.Journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read journal: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}
