package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleRecentEvents serves the in-memory ring of recent lifecycle
// events, newest first.
func (s *Server) handleRecentEvents(w http.ResponseWriter, _ *http.Request) {
	recent := s.deps.Recorder.Recent()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": recent,
		"count":  len(recent),
	})
}

// handleEventStream pushes lifecycle events over SSE until the client
// disconnects. Slow consumers miss events rather than stalling the
// broker; the ring at /api/v1/events covers the gap.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.deps.Broker.Subscribe()
	defer s.deps.Broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			// Comment lines keep idle proxies from reaping the stream.
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			flusher.Flush()
		}
	}
}
