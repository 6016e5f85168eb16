package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/launchpad/internal/core/domain"
)

// sseHeartbeat keeps idle event streams open through proxies.
const sseHeartbeat = 15 * time.Second

// handleDeploymentEvents streams build log events as server-sent events. The
// retained history of the current attempt is sent first. With follow=false
// the stream ends after the history. Streams also end when the server shuts
// down.
func (h *Handler) handleDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported", "internal_error")
		return
	}
	follow := r.URL.Query().Get("follow") != "false"

	sub, backlog := h.events.Subscribe(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, ev := range backlog {
		if err := writeEvent(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	if !follow {
		return
	}
	select {
	case <-h.closing:
		return
	default:
	}

	h.logger.Debug("event stream opened", "deployment_id", id, "subscription", sub.ID)
	defer h.logger.Debug("event stream closed", "deployment_id", id, "subscription", sub.ID)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.closing:
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev domain.BuildLogEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
	return err
}
