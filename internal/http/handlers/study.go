package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/realtime"
	"github.com/doctalk/doctalk-backend/internal/services"
)

const defaultFlashcardTarget = 15

type StudyHandler struct {
	log   *logger.Logger
	study *services.StudyService
	bus   realtime.Bus
}

func NewStudyHandler(log *logger.Logger, study *services.StudyService, bus realtime.Bus) *StudyHandler {
	return &StudyHandler{log: log.With("handler", "StudyHandler"), study: study, bus: bus}
}

func (h *StudyHandler) ListFlashcards(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	cards, err := h.study.ListFlashcards(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"flashcards": cards})
}

func (h *StudyHandler) GenerateFlashcards(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	var req struct {
		Count int `json:"count"`
	}
	// body is optional; the default target applies when absent
	_ = c.ShouldBindJSON(&req)
	if req.Count <= 0 {
		req.Count = defaultFlashcardTarget
	}

	cards, err := h.study.GenerateFlashcards(c.Request.Context(), middleware.UserID(c), id, req.Count)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.publish(c, realtime.Event{
		UserID:         middleware.UserID(c),
		ConversationID: id,
		Type:           realtime.EventFlashcardsGenerated,
		Data:           gin.H{"total": len(cards)},
	})
	response.OK(c, gin.H{"flashcards": cards})
}

func (h *StudyHandler) DeleteFlashcard(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	cardID, err := pathID(c, "flashcardID")
	if err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.study.DeleteFlashcard(c.Request.Context(), middleware.UserID(c), id, cardID); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "flashcard deleted"})
}

func (h *StudyHandler) DeleteAllFlashcards(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.study.DeleteAllFlashcards(c.Request.Context(), middleware.UserID(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "flashcards deleted"})
}

func (h *StudyHandler) GetMindmap(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	m, err := h.study.GetMindmap(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, m)
}

func (h *StudyHandler) GenerateMindmap(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	m, err := h.study.GenerateMindmap(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.publish(c, realtime.Event{
		UserID:         middleware.UserID(c),
		ConversationID: id,
		Type:           realtime.EventMindmapGenerated,
	})
	response.OK(c, m)
}

func (h *StudyHandler) DeleteMindmap(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.study.DeleteMindmap(c.Request.Context(), middleware.UserID(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "mindmap deleted"})
}

func (h *StudyHandler) publish(c *gin.Context, ev realtime.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(c.Request.Context(), ev); err != nil {
		h.log.Warn("Event publish failed", "type", ev.Type, "error", err)
	}
}
