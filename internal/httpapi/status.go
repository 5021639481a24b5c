package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleGetStatus is the one-shot pull: the latest computed snapshot, or a
// fresh computation when the loop has not published yet.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.feed.Latest()
	if !ok {
		snap = s.aggregator.Snapshot(r.Context())
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleStatusStream pushes successive snapshots as server-sent events. The
// first event is the catch-up snapshot; the stream ends only when the client
// disconnects.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	ch, cancel := s.feed.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-ch:
			if !ok {
				// Dropped as a slow subscriber; the client reconnects for
				// a fresh catch-up stream.
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				s.log.Error().Err(err).Msg("snapshot marshal failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleStatusWS mirrors the SSE stream over a websocket for the embedded
// dashboard.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.feed.Subscribe()
	defer cancel()

	// Reader goroutine: only detects client close.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				// A broken subscriber is dropped here; others keep their
				// own channels.
				return
			}
		}
	}
}
