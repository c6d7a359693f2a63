package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmarsh-dev/crm-migrate/internal/logging"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// handleEvents streams migration progress via Server-Sent Events. The
// first event is always "connected"; subsequent events arrive in the
// order the engine published them.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, cancel := s.bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	logger := logging.FromContext(r.Context())
	logger.Debug("event stream opened")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}

			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				logger.Error("failed to marshal event", "type", evt.Type, "error", err)
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			logger.Debug("event stream closed")
			return
		}
	}
}
