// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stemsync/stemsync/internal/feed"
)

// keepaliveInterval spaces the SSE comment lines that hold idle connections
// open through proxies.
const keepaliveInterval = 25 * time.Second

// handleEvents streams progress updates as server-sent events. The client
// first receives a snapshot of every known track, then live updates until
// it disconnects. ?track_id= narrows the stream to one track.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	trackID := r.URL.Query().Get("track_id")
	sub := s.feed.Subscribe(trackID)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, entry := range s.feed.Snapshot() {
		if trackID != "" && entry.TrackID != trackID {
			continue
		}
		writeEvent(w, entry)
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, open := <-sub.C():
			if !open {
				return
			}
			writeEvent(w, update)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, update feed.Update) {
	data, err := json.Marshal(update)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
}
