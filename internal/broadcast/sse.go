package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"brandgen/internal/domain"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("broadcast: streaming unsupported")

// StreamOptions tunes the transports.
type StreamOptions struct {
	Heartbeat time.Duration
	// CloseOnTerminal ends the stream after a terminal event of this job.
	CloseOnTerminal string
}

// PrepareSSE writes the event-stream headers and returns the flusher.
func PrepareSSE(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, nil
}

// WriteSSE writes one event frame.
func WriteSSE(w http.ResponseWriter, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

// StreamSSE copies sub's events to w until ctx ends, the subscription closes,
// or a terminal event for opts.CloseOnTerminal was written.
func StreamSSE(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub *Subscription, opts StreamOptions) error {
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if !sub.deliverable(ev) {
				continue
			}
			if err := WriteSSE(w, ev); err != nil {
				return err
			}
			flusher.Flush()
			if opts.CloseOnTerminal != "" && ev.JobID == opts.CloseOnTerminal && ev.Terminal() {
				return nil
			}
		}
	}
}
