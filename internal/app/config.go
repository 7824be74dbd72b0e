package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/utils"
)

type Config struct {
	Port           string
	Environment    string
	Version        string
	AllowedOrigins []string

	JWTSecret string
	TokenTTL  time.Duration

	ChunkSize    int
	ChunkOverlap int
	MaxFileSize  int64

	QdrantURL        string
	QdrantCollection string

	EmbeddingProvider string // "openai" or "ollama"
	EmbeddingBaseURL  string
	EmbeddingAPIKey   string
	EmbeddingModel    string
	EmbeddingProfile  string
	EmbeddingDim      int

	CloudBaseURL string
	CloudAPIKey  string
	CloudModel   string

	LocalBaseURL string
	LocalModel   string

	ConversationLockTimeout time.Duration
	LocalLockTimeout        time.Duration
	LocalMaxParallel        int

	LocalContextBudget int
	CloudContextBudget int
}

// fileConfig is the optional CONFIG_FILE yaml overlay. Environment
// variables win over file values; the file wins over defaults.
type fileConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Qdrant         struct {
		URL        string `yaml:"url"`
		Collection string `yaml:"collection"`
	} `yaml:"qdrant"`
	Embeddings struct {
		Provider string `yaml:"provider"`
		BaseURL  string `yaml:"base_url"`
		Model    string `yaml:"model"`
		Profile  string `yaml:"profile"`
		Dim      int    `yaml:"dim"`
	} `yaml:"embeddings"`
	Cloud struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"cloud"`
	Local struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"local"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	var file fileConfig
	if path := strings.TrimSpace(utils.GetEnv("CONFIG_FILE", "", log)); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		log.Info("Config file loaded", "path", path)
	}

	cfg := Config{
		Port:        utils.GetEnv("PORT", fallback(file.Port, "8080"), log),
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("VERSION", "dev", log),

		JWTSecret: utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		TokenTTL:  time.Duration(utils.GetEnvAsInt("TOKEN_TTL_SECONDS", 7*24*3600, log)) * time.Second,

		ChunkSize:    utils.GetEnvAsInt("CHUNK_SIZE", 800, log),
		ChunkOverlap: utils.GetEnvAsInt("CHUNK_OVERLAP", 128, log),
		MaxFileSize:  int64(utils.GetEnvAsInt("MAX_FILE_SIZE_MB", 20, log)) << 20,

		QdrantURL:        utils.GetEnv("QDRANT_URL", fallback(file.Qdrant.URL, "http://localhost:6333"), log),
		QdrantCollection: utils.GetEnv("QDRANT_COLLECTION", fallback(file.Qdrant.Collection, "doctalk_chunks"), log),

		EmbeddingProvider: utils.GetEnv("EMBEDDINGS_PROVIDER", fallback(file.Embeddings.Provider, "ollama"), log),
		EmbeddingBaseURL:  utils.GetEnv("EMBEDDINGS_BASE_URL", fallback(file.Embeddings.BaseURL, "http://localhost:11434"), log),
		EmbeddingAPIKey:   utils.GetEnv("EMBEDDINGS_API_KEY", "", log),
		EmbeddingModel:    utils.GetEnv("EMBEDDINGS_MODEL", fallback(file.Embeddings.Model, "nomic-embed-text"), log),
		EmbeddingProfile:  utils.GetEnv("EMBEDDINGS_PROFILE", fallback(file.Embeddings.Profile, "ollama:nomic-embed-text"), log),
		EmbeddingDim:      utils.GetEnvAsInt("EMBEDDINGS_DIM", fallbackInt(file.Embeddings.Dim, 768), log),

		CloudBaseURL: utils.GetEnv("CLOUD_LLM_BASE_URL", fallback(file.Cloud.BaseURL, "https://api.openai.com"), log),
		CloudAPIKey:  utils.GetEnv("CLOUD_LLM_API_KEY", "", log),
		CloudModel:   utils.GetEnv("CLOUD_LLM_MODEL", fallback(file.Cloud.Model, "gpt-4o-mini"), log),

		LocalBaseURL: utils.GetEnv("LOCAL_LLM_BASE_URL", fallback(file.Local.BaseURL, "http://localhost:11434"), log),
		LocalModel:   utils.GetEnv("LOCAL_LLM_MODEL", file.Local.Model, log),

		ConversationLockTimeout: time.Duration(utils.GetEnvAsInt("CONVERSATION_LOCK_TIMEOUT", 300, log)) * time.Second,
		LocalLockTimeout:        time.Duration(utils.GetEnvAsInt("LOCAL_LOCK_TIMEOUT", 180, log)) * time.Second,
		LocalMaxParallel:        utils.GetEnvAsInt("OLLAMA_MAX_PARALLEL", 6, log),

		LocalContextBudget: utils.GetEnvAsInt("LOCAL_CONTEXT_BUDGET", 8000, log),
		CloudContextBudget: utils.GetEnvAsInt("CLOUD_CONTEXT_BUDGET", 30000, log),
	}

	if origins := strings.TrimSpace(utils.GetEnv("ALLOWED_ORIGINS", "", log)); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	} else {
		cfg.AllowedOrigins = file.AllowedOrigins
	}

	return cfg, nil
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func fallbackInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
