package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/services"
)

type DocumentHandler struct {
	docs *services.DocumentService
}

func NewDocumentHandler(docs *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

// SetActive toggles whether a document participates in retrieval.
func (h *DocumentHandler) SetActive(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		response.Error(c, 400, string(apperr.KindInvalid), apperr.New(apperr.KindInvalid, "active flag is required"))
		return
	}
	doc, err := h.docs.SetActive(c.Request.Context(), middleware.UserID(c), id, *req.Active)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, doc)
}
