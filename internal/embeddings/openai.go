package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/doctalk/doctalk-backend/internal/logger"
)

// OpenAICompatibleConfig targets any server exposing /v1/embeddings.
type OpenAICompatibleConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	ProfileID string
	Dimension int
	Timeout   time.Duration
}

type openaiEmbedder struct {
	log *logger.Logger
	cfg OpenAICompatibleConfig

	http *http.Client
}

func NewOpenAICompatible(log *logger.Logger, cfg OpenAICompatibleConfig) (Embedder, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("embeddings: base_url required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("embeddings: model required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embeddings: dimension required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = baseURL

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &openaiEmbedder{
		log:  log.With("service", "OpenAIEmbedder", "profile", cfg.ProfileID),
		cfg:  cfg,
		http: &http.Client{Transport: tr},
	}, nil
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	reqBody := embeddingsRequest{Model: e.cfg.Model, Input: texts}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, "POST", e.cfg.BaseURL+"/v1/embeddings", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("embeddings upstream status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = Normalize(vec)
		}
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("embeddings missing index=%d (model=%s)", i, e.cfg.Model)
		}
	}
	return out, nil
}

func (e *openaiEmbedder) Dimension() int  { return e.cfg.Dimension }
func (e *openaiEmbedder) Profile() string { return e.cfg.ProfileID }
