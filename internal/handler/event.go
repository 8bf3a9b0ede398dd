package handler

import (
	"net/http"
	"strconv"

	"github.com/efreitasn/p2pescrow/internal/outbox"
)

// EventHandler serves the committed outbox for pull consumers.
type EventHandler struct {
	log *outbox.Log
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(log *outbox.Log) *EventHandler {
	return &EventHandler{log: log}
}

// eventListResponse is the JSON response for GET /events. Pass last_seq as
// the next request's after to continue.
type eventListResponse struct {
	Events  []outbox.Envelope `json:"events"`
	LastSeq uint64            `json:"last_seq"`
}

// List handles GET /events.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		var err error
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "after must be a non-negative integer")
			return
		}
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		mapError(w, err)
		return
	}
	if limit < 1 || limit > 500 {
		WriteError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 500")
		return
	}

	events := h.log.After(after, limit)
	resp := eventListResponse{
		Events:  make([]outbox.Envelope, len(events)),
		LastSeq: after,
	}
	for i, ev := range events {
		resp.Events[i] = outbox.NewEnvelope(ev)
		resp.LastSeq = ev.Seq
	}
	WriteJSON(w, http.StatusOK, resp)
}
