package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/services"
)

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, 400, string(apperr.KindInvalid), apperr.New(apperr.KindInvalid, "invalid request body"))
		return
	}
	result, err := h.auth.Signup(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *AuthHandler) Signin(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, 400, string(apperr.KindInvalid), apperr.New(apperr.KindInvalid, "invalid request body"))
		return
	}
	result, err := h.auth.Signin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *AuthHandler) Profile(c *gin.Context) {
	user, err := h.auth.Profile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, user)
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, 400, string(apperr.KindInvalid), apperr.New(apperr.KindInvalid, "invalid request body"))
		return
	}
	user, err := h.auth.UpdateProfile(c.Request.Context(), middleware.UserID(c), req.Name)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, user)
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, 400, string(apperr.KindInvalid), apperr.New(apperr.KindInvalid, "invalid request body"))
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), middleware.UserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "password changed"})
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, 400, string(apperr.KindInvalid), apperr.New(apperr.KindInvalid, "invalid request body"))
		return
	}
	if err := h.auth.DeleteAccount(c.Request.Context(), middleware.UserID(c), req.Password); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "account deleted"})
}
