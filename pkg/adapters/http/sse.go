package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SubscribeFrames handles GET /instances/{instanceID}/events (SSE).
// Each committed frame is sent as a "frame" event whose id is its sequence
// number. A reconnecting client passes the last id it applied as since, or
// through the Last-Event-ID header. The stream ends after the terminal frame.
func (s *Server) SubscribeFrames(w http.ResponseWriter, r *http.Request, instanceID string, params SubscribeFramesParams) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "", nil)
		s.logger.Error("SSE: streaming not supported")
		return
	}

	var since uint64
	if params.Since != nil {
		since = *params.Since
	} else if last := r.Header.Get("Last-Event-ID"); last != "" {
		if _, err := fmt.Sscan(last, &since); err != nil {
			writeError(w, http.StatusBadRequest, "invalid Last-Event-ID", "", nil)
			return
		}
	}

	sub, err := s.Frames.Subscribe(instanceID, since)
	if err != nil {
		s.fail(w, "subscribe", err, nil)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Info("SSE: observer subscribed", "instance_id", instanceID, "since", since)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: observer disconnected", "instance_id", instanceID)
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		case f, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				s.logger.Error("SSE: frame encode failed", "instance_id", instanceID, "seq", f.Seq, "error", err)
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: frame\ndata: %s\n\n", f.Seq, data)
			flusher.Flush()
		}
	}
}
