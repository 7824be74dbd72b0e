package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// chatClient speaks the OpenAI-compatible chat-completions dialect used
// by both the cloud providers and local servers (Ollama, vLLM, llamacpp).
type chatClient struct {
	baseURL       string
	apiKey        string
	timeout       time.Duration
	streamTimeout time.Duration
	httpClient    *http.Client
}

func newChatClient(baseURL, apiKey string, timeout, streamTimeout time.Duration) (*chatClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("llm: base_url required")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

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

	return &chatClient{
		baseURL:       baseURL,
		apiKey:        strings.TrimSpace(apiKey),
		timeout:       timeout,
		streamTimeout: streamTimeout,
		httpClient:    &http.Client{Transport: tr},
	}, nil
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []chatCompletionMessage `json:"messages"`
	Temperature float64                 `json:"temperature,omitempty"`
	Stream      bool                    `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content,omitempty"`
		} `json:"message,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
}

type chatCompletionStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
	Error any `json:"error,omitempty"`
}

func (c *chatClient) setHeaders(req *http.Request, accept string) {
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *chatClient) complete(ctx context.Context, model string, messages []Message, temperature float64) (string, error) {
	reqBody := chatCompletionRequest{
		Model:       model,
		Messages:    toWireMessages(messages),
		Temperature: temperature,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", err
	}

	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, "POST", c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return "", err
	}
	c.setHeaders(req, "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", fmt.Errorf("llm upstream status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	text := extractChoiceText(parsed)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty upstream completion")
	}
	return text, nil
}

// stream reads the SSE response and forwards deltas in generation
// order; it returns the concatenated full text.
func (c *chatClient) stream(ctx context.Context, model string, messages []Message, temperature float64, onDelta func(delta string) error) (string, error) {
	reqBody := chatCompletionRequest{
		Model:       model,
		Messages:    toWireMessages(messages),
		Temperature: temperature,
		Stream:      true,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", err
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if c.streamTimeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx2, "POST", c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return "", err
	}
	c.setHeaders(req, "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", fmt.Errorf("llm upstream status=%d body=%s", resp.StatusCode, string(raw))
	}

	var full strings.Builder
	err = streamSSE(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}

		var chunk chatCompletionStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			b, _ := json.Marshal(chunk.Error)
			return fmt.Errorf("upstream stream error: %s", string(b))
		}

		for _, choice := range chunk.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				delta = choice.Text
			}
			if delta == "" {
				continue
			}
			full.WriteString(delta)
			if onDelta != nil {
				if err := onDelta(delta); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

func toWireMessages(messages []Message) []chatCompletionMessage {
	out := make([]chatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := strings.TrimSpace(m.Role)
		content := strings.TrimSpace(m.Content)
		if role == "" || content == "" {
			continue
		}
		out = append(out, chatCompletionMessage{Role: role, Content: content})
	}
	return out
}

func extractChoiceText(resp chatCompletionResponse) string {
	for _, c := range resp.Choices {
		if strings.TrimSpace(c.Message.Content) != "" {
			return c.Message.Content
		}
		if strings.TrimSpace(c.Text) != "" {
			return c.Text
		}
	}
	return ""
}
