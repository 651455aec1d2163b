package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/shell"
	"github.com/soloras/hub-agent/internal/sse"
)

// EventsHandler streams agent state changes to the local UI.
type EventsHandler struct {
	broker    *sse.Broker
	shell     Controller
	heartbeat time.Duration
}

func NewEventsHandler(broker *sse.Broker, ctrl Controller) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		shell:     ctrl,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(shell.Topic)
	defer h.broker.Unsubscribe(client)

	log.Debug().Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", h.shell.View()); err != nil {
		log.Debug().Err(err).Msg("failed to send connected event")
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Debug().Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
