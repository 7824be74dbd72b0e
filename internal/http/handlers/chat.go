package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/services"
)

type ChatHandler struct {
	log  *logger.Logger
	chat *services.ChatService
}

func NewChatHandler(log *logger.Logger, chat *services.ChatService) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), chat: chat}
}

// Chat runs one turn and returns the full answer as JSON.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req services.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FromError(c, invalidBody())
		return
	}
	outcome, err := h.chat.Chat(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, outcome)
}

// ChatStream runs one turn over SSE. Failures before the stream opens
// come back as plain HTTP errors; once frames are flowing, errors arrive
// as error/done frames instead.
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req services.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FromError(c, invalidBody())
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.FromError(c, fmt.Errorf("streaming unsupported"))
		return
	}

	started := false
	emit := func(frame services.Frame) error {
		if !started {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Header("X-Accel-Buffering", "no")
			c.Writer.WriteHeader(http.StatusOK)
			started = true
		}
		raw, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", raw); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.chat.Stream(c.Request.Context(), middleware.UserID(c), req, emit); err != nil {
		if !started {
			response.FromError(c, err)
			return
		}
		h.log.Debug("Chat stream ended with error", "error", err)
	}
}
