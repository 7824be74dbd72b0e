package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/services"
)

type MessageHandler struct {
	convs *services.ConversationService
	chat  *services.ChatService
}

func NewMessageHandler(convs *services.ConversationService, chat *services.ChatService) *MessageHandler {
	return &MessageHandler{convs: convs, chat: chat}
}

// Edit rewrites a user message's content in place. With ?regenerate=true
// a fresh assistant answer to the edited message is generated as a new
// sibling of the earlier answers. Version-creating edits of the user
// message itself go through /chat/stream with isEdit instead.
func (h *MessageHandler) Edit(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FromError(c, invalidBody())
		return
	}
	msg, err := h.convs.EditMessage(c.Request.Context(), middleware.UserID(c), id, req.Content)
	if err != nil {
		response.FromError(c, err)
		return
	}
	regen, _ := strconv.ParseBool(c.DefaultQuery("regenerate", "false"))
	if !regen {
		response.OK(c, msg)
		return
	}
	outcome, err := h.chat.RegenerateReply(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{
		"updatedMessage": msg,
		"regenerated":    outcome,
	})
}

func (h *MessageHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.convs.DeleteMessage(c.Request.Context(), middleware.UserID(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "message deleted"})
}

func invalidBody() error {
	return apperr.New(apperr.KindInvalid, "invalid request body")
}
