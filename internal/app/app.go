package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/db"
	"github.com/doctalk/doctalk-backend/internal/embeddings"
	apphttp "github.com/doctalk/doctalk-backend/internal/http"
	"github.com/doctalk/doctalk-backend/internal/http/handlers"
	"github.com/doctalk/doctalk-backend/internal/http/middleware"
	"github.com/doctalk/doctalk-backend/internal/llm"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/platform/qdrant"
	"github.com/doctalk/doctalk-backend/internal/rag"
	"github.com/doctalk/doctalk-backend/internal/realtime"
	"github.com/doctalk/doctalk-backend/internal/repos"
	"github.com/doctalk/doctalk-backend/internal/services"
	"github.com/doctalk/doctalk-backend/internal/study"
)

// App holds the wired service graph and the HTTP router.
type App struct {
	Log    *logger.Logger
	Config Config
	Router *gin.Engine

	bus realtime.Bus
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	// Database
	dbService, err := db.New(log)
	if err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("database migration: %w", err)
	}
	gdb := dbService.DB()

	// Repos
	userRepo := repos.NewUserRepo(gdb, log)
	convRepo := repos.NewConversationRepo(gdb, log)
	docRepo := repos.NewDocumentRepo(gdb, log)
	chunkRepo := repos.NewChunkRepo(gdb, log)
	msgRepo := repos.NewMessageRepo(gdb, log)
	flashcardRepo := repos.NewFlashcardRepo(gdb, log)
	mindmapRepo := repos.NewMindmapRepo(gdb, log)

	// Embeddings: one lazily-built embedder per profile tag. The default
	// profile follows the configured provider; conversations created under
	// older profiles keep resolving through the same builder.
	registry := embeddings.NewRegistry(log, func(profile string) (embeddings.Embedder, error) {
		if cfg.EmbeddingProvider == "openai" {
			return embeddings.NewOpenAICompatible(log, embeddings.OpenAICompatibleConfig{
				BaseURL:   cfg.EmbeddingBaseURL,
				APIKey:    cfg.EmbeddingAPIKey,
				Model:     cfg.EmbeddingModel,
				ProfileID: profile,
				Dimension: cfg.EmbeddingDim,
			})
		}
		return embeddings.NewOllama(log, embeddings.OllamaConfig{
			Host:      cfg.EmbeddingBaseURL,
			Model:     cfg.EmbeddingModel,
			ProfileID: profile,
			Dimension: cfg.EmbeddingDim,
		})
	})

	// Vector store
	vectors, err := qdrant.NewVectorStore(log, qdrant.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		VectorDim:  cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("vector store init: %w", err)
	}

	// LLM providers
	var providers services.ProviderSet
	cloud, err := llm.NewCloudProvider(log, llm.CloudConfig{
		BaseURL: cfg.CloudBaseURL,
		APIKey:  cfg.CloudAPIKey,
		Model:   cfg.CloudModel,
	})
	if err != nil {
		log.Warn("Cloud provider unavailable", "error", err)
	} else {
		providers.Cloud = cloud
	}
	if cfg.LocalModel != "" {
		local, err := llm.NewLocalProvider(log, llm.LocalConfig{
			BaseURL: cfg.LocalBaseURL,
			Model:   cfg.LocalModel,
		})
		if err != nil {
			log.Warn("Local provider unavailable", "error", err)
		} else {
			providers.Local = local
		}
	}

	locks := llm.NewLocks(log, llm.LocksConfig{
		ConversationTimeout: cfg.ConversationLockTimeout,
		LocalTimeout:        cfg.LocalLockTimeout,
		LocalMaxParallel:    int64(cfg.LocalMaxParallel),
	})

	chunker := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	processor := study.NewProcessor(log, 0)

	// Services
	branch := services.NewBranchStore(log, msgRepo)
	authService := services.NewAuthService(log, gdb, userRepo, convRepo, vectors, cfg.JWTSecret, cfg.TokenTTL)
	documentService := services.NewDocumentService(log, gdb, convRepo, docRepo, chunkRepo, chunker, registry, vectors, services.NewTextDecoder(), services.DocumentServiceConfig{
		MaxFileSize:      cfg.MaxFileSize,
		EmbeddingProfile: cfg.EmbeddingProfile,
	})
	conversationService := services.NewConversationService(log, gdb, convRepo, msgRepo, docRepo, branch, vectors)
	chatService := services.NewChatService(log, gdb, convRepo, docRepo, chunkRepo, branch, registry, vectors, locks, providers, processor, services.ChatServiceConfig{
		LocalContextBudget: cfg.LocalContextBudget,
		CloudContextBudget: cfg.CloudContextBudget,
	})
	studyService := services.NewStudyService(log, convRepo, chunkRepo, flashcardRepo, mindmapRepo, providers, locks, processor)

	// Realtime fan-out: events travel through Redis when configured so
	// every replica's subscribers see them; otherwise in-process.
	hub := realtime.NewHub(log)
	bus, err := realtime.NewRedisBus(log)
	if err != nil {
		log.Warn("Redis bus unavailable, using in-process events", "error", err)
		bus = realtime.NewLocalBus()
	}
	if err := bus.StartForwarder(ctx, hub.Broadcast); err != nil {
		return nil, fmt.Errorf("event forwarder: %w", err)
	}

	// HTTP
	authMW := middleware.NewAuthMiddleware(log, authService)
	router := apphttp.NewRouter(apphttp.RouterConfig{
		Log:            log,
		AllowedOrigins: cfg.AllowedOrigins,
		AuthMiddleware: authMW,

		HealthHandler:       handlers.NewHealthHandler(providers.Cloud != nil, providers.Local != nil),
		AuthHandler:         handlers.NewAuthHandler(authService),
		UploadHandler:       handlers.NewUploadHandler(log, documentService, bus),
		ConversationHandler: handlers.NewConversationHandler(log, conversationService, bus),
		DocumentHandler:     handlers.NewDocumentHandler(documentService),
		ChatHandler:         handlers.NewChatHandler(log, chatService),
		MessageHandler:      handlers.NewMessageHandler(conversationService, chatService),
		StudyHandler:        handlers.NewStudyHandler(log, studyService, bus),
		EventsHandler:       handlers.NewEventsHandler(log, hub),
	})

	return &App{
		Log:    log,
		Config: cfg,
		Router: router,
		bus:    bus,
	}, nil
}

func (a *App) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.Log.Warn("Event bus close failed", "error", err)
		}
	}
}
