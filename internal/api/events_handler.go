package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/ductile-ci/internal/events"
)

const sseKeepAlive = 15 * time.Second

// sseStream writes hub events in text/event-stream framing and remembers the
// last id sent so replayed and live events are never duplicated.
type sseStream struct {
	w      io.Writer
	lastID int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	frame := fmt.Sprintf("id: %d\n", ev.ID)
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	// Data is compact JSON, so a single data line suffices.
	frame += "data: " + string(ev.Data) + "\n\n"
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	s.lastID = ev.ID
	return nil
}

func (s *sseStream) ping() error {
	_, err := io.WriteString(s.w, ": keep-alive\n\n")
	return err
}

// handleEvents streams hub events. A client reconnecting with Last-Event-ID
// first receives whatever is still buffered after that id.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe first: anything published during the replay still arrives.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: w}
	for _, ev := range s.events.Since(lastEventID(r)) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-keepAlive.C:
			err = stream.ping()
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

// lastEventID reads the Last-Event-ID header; garbage counts as "from the start".
func lastEventID(r *http.Request) int64 {
	n, err := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
