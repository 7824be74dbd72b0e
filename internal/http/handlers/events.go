package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/realtime"
)

type EventsHandler struct {
	log *logger.Logger
	hub *realtime.Hub
}

func NewEventsHandler(log *logger.Logger, hub *realtime.Hub) *EventsHandler {
	return &EventsHandler{log: log.With("handler", "EventsHandler"), hub: hub}
}

// Stream holds an SSE connection open and forwards the user's lifecycle
// events with a periodic heartbeat.
func (h *EventsHandler) Stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.FromError(c, fmt.Errorf("streaming unsupported"))
		return
	}

	client := h.hub.Subscribe(middleware.UserID(c))
	defer h.hub.Unsubscribe(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()
		case ev := <-client.Outbound:
			raw, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("Failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", raw)
			flusher.Flush()
		}
	}
}
