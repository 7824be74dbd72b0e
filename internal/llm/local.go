package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
)

// tokens buffered between the HTTP reader and the SSE consumer
const streamQueueSize = 64

type LocalConfig struct {
	BaseURL       string
	Model         string
	Timeout       time.Duration
	StreamTimeout time.Duration
}

// LocalProvider talks to a local OpenAI-compatible server. Output runs
// through the hygiene pass because small local models leak template
// markers and prompt echoes.
type LocalProvider struct {
	log    *logger.Logger
	client *chatClient
	model  string
}

func NewLocalProvider(log *logger.Logger, cfg LocalConfig) (*LocalProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: local model required")
	}
	client, err := newChatClient(cfg.BaseURL, "", cfg.Timeout, cfg.StreamTimeout)
	if err != nil {
		return nil, err
	}
	return &LocalProvider{
		log:    log.With("service", "LocalLLMProvider", "model", cfg.Model),
		client: client,
		model:  cfg.Model,
	}, nil
}

func (p *LocalProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	text, err := p.client.complete(ctx, p.model, BuildChatMessages(req), chatTemperature)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, "local generation failed", err)
	}
	return &Result{
		Response:     CleanResponse(text),
		Sources:      ExtractSources(req.ContextDocs),
		SourceChunks: ExtractSourceChunks(req.ContextDocs),
	}, nil
}

type streamItem struct {
	token string
	err   error
}

// GenerateStream runs the blocking HTTP read on a producer goroutine and
// hands tokens to the caller through a bounded queue, preserving
// generation order.
func (p *LocalProvider) GenerateStream(ctx context.Context, req Request, onToken func(token string) error) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan streamItem, streamQueueSize)

	go func() {
		defer close(queue)
		_, err := p.client.stream(ctx, p.model, BuildChatMessages(req), chatTemperature, func(delta string) error {
			select {
			case queue <- streamItem{token: delta}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			select {
			case queue <- streamItem{err: err}:
			case <-ctx.Done():
			}
		}
	}()

	var accumulated []byte
	for item := range queue {
		if item.err != nil {
			return nil, apperr.Wrap(apperr.KindProvider, "local streaming failed", item.err)
		}
		accumulated = append(accumulated, item.token...)
		cleaned := CleanToken(item.token)
		if cleaned == "" {
			continue
		}
		if onToken != nil {
			if err := onToken(cleaned); err != nil {
				cancel()
				return nil, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Result{
		Response:     CleanResponse(string(accumulated)),
		Sources:      ExtractSources(req.ContextDocs),
		SourceChunks: ExtractSourceChunks(req.ContextDocs),
	}, nil
}

func (p *LocalProvider) GenerateSimple(ctx context.Context, prompt string) (string, error) {
	text, err := p.client.complete(ctx, p.model, []Message{{Role: "user", Content: prompt}}, simpleTemperature)
	if err != nil {
		return "", apperr.Wrap(apperr.KindProvider, "local simple generation failed", err)
	}
	return CleanResponse(text), nil
}
