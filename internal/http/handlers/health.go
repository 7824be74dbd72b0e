package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/http/response"
)

type HealthHandler struct {
	cloudConfigured bool
	localConfigured bool
}

func NewHealthHandler(cloudConfigured, localConfigured bool) *HealthHandler {
	return &HealthHandler{cloudConfigured: cloudConfigured, localConfigured: localConfigured}
}

func (h *HealthHandler) Health(c *gin.Context) {
	response.OK(c, gin.H{
		"status": "ok",
		"providers": gin.H{
			"cloud": h.cloudConfigured,
			"local": h.localConfigured,
		},
	})
}
