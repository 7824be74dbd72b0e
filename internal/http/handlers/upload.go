package handlers

import (
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/realtime"
	"github.com/doctalk/doctalk-backend/internal/services"
)

type UploadHandler struct {
	log  *logger.Logger
	docs *services.DocumentService
	bus  realtime.Bus
}

func NewUploadHandler(log *logger.Logger, docs *services.DocumentService, bus realtime.Bus) *UploadHandler {
	return &UploadHandler{log: log.With("handler", "UploadHandler"), docs: docs, bus: bus}
}

// Upload accepts multipart files and creates a new conversation around
// them. llm_mode pins the conversation to "cloud" or "local".
func (h *UploadHandler) Upload(c *gin.Context) {
	files, err := readMultipartFiles(c)
	if err != nil {
		response.FromError(c, err)
		return
	}
	llmMode := c.PostForm("llm_mode")

	result, err := h.docs.Upload(c.Request.Context(), middleware.UserID(c), files, llmMode)
	if err != nil {
		response.FromError(c, err)
		return
	}

	h.publish(c, realtime.Event{
		UserID:         middleware.UserID(c),
		ConversationID: result.Conversation.ID,
		Type:           realtime.EventDocumentsUploaded,
		Data:           gin.H{"documents": len(result.Documents)},
	})
	response.OK(c, result)
}

// AddDocuments indexes more files into an existing conversation.
func (h *UploadHandler) AddDocuments(c *gin.Context) {
	conversationID, err := strconv.ParseInt(c.Param("conversationID"), 10, 64)
	if err != nil {
		response.Error(c, 400, string(apperr.KindInvalid), apperr.New(apperr.KindInvalid, "invalid conversation id"))
		return
	}
	files, err := readMultipartFiles(c)
	if err != nil {
		response.FromError(c, err)
		return
	}

	result, err := h.docs.AddDocuments(c.Request.Context(), middleware.UserID(c), conversationID, files)
	if err != nil {
		response.FromError(c, err)
		return
	}

	h.publish(c, realtime.Event{
		UserID:         middleware.UserID(c),
		ConversationID: conversationID,
		Type:           realtime.EventDocumentsAdded,
		Data:           gin.H{"documents": len(result.Documents)},
	})
	response.OK(c, result)
}

func (h *UploadHandler) publish(c *gin.Context, ev realtime.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(c.Request.Context(), ev); err != nil {
		h.log.Warn("Event publish failed", "type", ev.Type, "error", err)
	}
}

func readMultipartFiles(c *gin.Context) ([]services.UploadFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.New(apperr.KindInvalid, "multipart form required")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, apperr.New(apperr.KindInvalid, "no files provided")
	}

	files := make([]services.UploadFile, 0, len(headers))
	for _, header := range headers {
		data, err := readFileHeader(header)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalid, "failed to read "+header.Filename, err)
		}
		files = append(files, services.UploadFile{Filename: header.Filename, Data: data})
	}
	return files, nil
}

func readFileHeader(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
