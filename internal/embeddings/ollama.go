package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doctalk/doctalk-backend/internal/logger"
)

// OllamaConfig targets an Ollama daemon's /api/embeddings endpoint, which
// only accepts one prompt per call.
type OllamaConfig struct {
	Host      string
	Model     string
	ProfileID string
	Dimension int
	Timeout   time.Duration
}

type ollamaEmbedder struct {
	log  *logger.Logger
	cfg  OllamaConfig
	http *http.Client
}

func NewOllama(log *logger.Logger, cfg OllamaConfig) (Embedder, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("embeddings: ollama host required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("embeddings: ollama model required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embeddings: dimension required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.Host = host
	return &ollamaEmbedder{
		log:  log.With("service", "OllamaEmbedder", "profile", cfg.ProfileID),
		cfg:  cfg,
		http: &http.Client{},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(ollamaEmbedRequest{Model: e.cfg.Model, Prompt: text}); err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, "POST", e.cfg.Host+"/api/embeddings", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("ollama embeddings status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embeddings empty (model=%s)", e.cfg.Model)
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, f := range parsed.Embedding {
		vec[i] = float32(f)
	}
	return Normalize(vec), nil
}

func (e *ollamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *ollamaEmbedder) Dimension() int  { return e.cfg.Dimension }
func (e *ollamaEmbedder) Profile() string { return e.cfg.ProfileID }
