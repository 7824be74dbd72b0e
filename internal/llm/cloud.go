package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
)

const (
	chatTemperature   = 0.2
	simpleTemperature = 0.7
)

type CloudConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	StreamTimeout time.Duration
}

// CloudProvider talks to a hosted chat-completions API.
type CloudProvider struct {
	log    *logger.Logger
	client *chatClient
	model  string
}

func NewCloudProvider(log *logger.Logger, cfg CloudConfig) (*CloudProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: cloud model required")
	}
	client, err := newChatClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.StreamTimeout)
	if err != nil {
		return nil, err
	}
	return &CloudProvider{
		log:    log.With("service", "CloudLLMProvider", "model", cfg.Model),
		client: client,
		model:  cfg.Model,
	}, nil
}

func (p *CloudProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func (p *CloudProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	text, err := p.client.complete(ctx, p.resolveModel(req), BuildChatMessages(req), chatTemperature)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, "cloud generation failed", err)
	}
	return &Result{
		Response:     text,
		Sources:      ExtractSources(req.ContextDocs),
		SourceChunks: ExtractSourceChunks(req.ContextDocs),
	}, nil
}

func (p *CloudProvider) GenerateStream(ctx context.Context, req Request, onToken func(token string) error) (*Result, error) {
	full, err := p.client.stream(ctx, p.resolveModel(req), BuildChatMessages(req), chatTemperature, onToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, "cloud streaming failed", err)
	}
	return &Result{
		Response:     full,
		Sources:      ExtractSources(req.ContextDocs),
		SourceChunks: ExtractSourceChunks(req.ContextDocs),
	}, nil
}

func (p *CloudProvider) GenerateSimple(ctx context.Context, prompt string) (string, error) {
	text, err := p.client.complete(ctx, p.model, []Message{{Role: "user", Content: prompt}}, simpleTemperature)
	if err != nil {
		return "", apperr.Wrap(apperr.KindProvider, "cloud simple generation failed", err)
	}
	return text, nil
}
