package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/realtime"
	"github.com/doctalk/doctalk-backend/internal/services"
)

type ConversationHandler struct {
	log   *logger.Logger
	convs *services.ConversationService
	bus   realtime.Bus
}

func NewConversationHandler(log *logger.Logger, convs *services.ConversationService, bus realtime.Bus) *ConversationHandler {
	return &ConversationHandler{log: log.With("handler", "ConversationHandler"), convs: convs, bus: bus}
}

func (h *ConversationHandler) List(c *gin.Context) {
	summaries, err := h.convs.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"conversations": summaries})
}

func (h *ConversationHandler) Detail(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	detail, err := h.convs.Detail(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, detail)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.convs.Delete(c.Request.Context(), middleware.UserID(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	if h.bus != nil {
		if perr := h.bus.Publish(c.Request.Context(), realtime.Event{
			UserID:         middleware.UserID(c),
			ConversationID: id,
			Type:           realtime.EventConversationDeleted,
		}); perr != nil {
			h.log.Warn("Event publish failed", "type", realtime.EventConversationDeleted, "error", perr)
		}
	}
	response.OK(c, gin.H{"message": "conversation deleted"})
}

// Download streams the active-branch transcript as an attachment.
func (h *ConversationHandler) Download(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	data, contentType, filename, err := h.convs.Export(c.Request.Context(), middleware.UserID(c), id, c.Query("format"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(200, contentType, data)
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Newf(apperr.KindInvalid, "invalid %s", name)
	}
	return id, nil
}
