package http

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/doctalk/doctalk-backend/internal/http/handlers"
	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AllowedOrigins []string

	AuthMiddleware *middleware.AuthMiddleware

	HealthHandler       *handlers.HealthHandler
	AuthHandler         *handlers.AuthHandler
	UploadHandler       *handlers.UploadHandler
	ConversationHandler *handlers.ConversationHandler
	DocumentHandler     *handlers.DocumentHandler
	ChatHandler         *handlers.ChatHandler
	MessageHandler      *handlers.MessageHandler
	StudyHandler        *handlers.StudyHandler
	EventsHandler       *handlers.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Log != nil {
		router.Use(middleware.RequestLogger(cfg.Log))
	}
	router.Use(otelgin.Middleware("doctalk-backend"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: !containsWildcard(origins),
	}))

	// Public
	router.GET("/health", cfg.HealthHandler.Health)
	router.POST("/auth/signup", cfg.AuthHandler.Signup)
	router.POST("/auth/signin", cfg.AuthHandler.Signin)

	// Protected
	auth := router.Group("/auth")
	auth.Use(cfg.AuthMiddleware.RequireAuth())
	{
		auth.GET("/profile", cfg.AuthHandler.Profile)
		auth.PUT("/profile", cfg.AuthHandler.UpdateProfile)
		auth.POST("/change-password", cfg.AuthHandler.ChangePassword)
		auth.DELETE("/account", cfg.AuthHandler.DeleteAccount)
	}

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/upload", cfg.UploadHandler.Upload)
		api.POST("/add-documents/:conversationID", cfg.UploadHandler.AddDocuments)

		api.GET("/conversations", cfg.ConversationHandler.List)
		api.GET("/conversations/:id", cfg.ConversationHandler.Detail)
		api.DELETE("/conversations/:id", cfg.ConversationHandler.Delete)
		api.GET("/conversations/:id/download", cfg.ConversationHandler.Download)

		api.PATCH("/documents/:id", cfg.DocumentHandler.SetActive)

		api.POST("/chat", cfg.ChatHandler.Chat)
		api.POST("/chat/stream", cfg.ChatHandler.ChatStream)

		api.PUT("/messages/:id", cfg.MessageHandler.Edit)
		api.DELETE("/messages/:id", cfg.MessageHandler.Delete)

		api.GET("/conversations/:id/flashcards", cfg.StudyHandler.ListFlashcards)
		api.POST("/conversations/:id/flashcards/generate", cfg.StudyHandler.GenerateFlashcards)
		api.DELETE("/conversations/:id/flashcards/:flashcardID", cfg.StudyHandler.DeleteFlashcard)
		api.DELETE("/conversations/:id/flashcards", cfg.StudyHandler.DeleteAllFlashcards)

		api.GET("/conversations/:id/mindmap", cfg.StudyHandler.GetMindmap)
		api.POST("/conversations/:id/mindmap/generate", cfg.StudyHandler.GenerateMindmap)
		api.DELETE("/conversations/:id/mindmap", cfg.StudyHandler.DeleteMindmap)

		api.GET("/events/stream", cfg.EventsHandler.Stream)
	}

	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
