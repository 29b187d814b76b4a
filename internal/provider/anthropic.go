package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicTimeout        = 120 * time.Second
)

// AnthropicConfig holds configuration for the Anthropic provider
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// AnthropicProvider implements the Provider interface for the Anthropic
// Messages API
type AnthropicProvider struct {
	apiKey  string
	model   string
	client  *http.Client
	baseURL string
}

// NewAnthropicProvider creates a new Anthropic provider instance
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required for Anthropic provider")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = anthropicTimeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &AnthropicProvider{
		apiKey:  config.APIKey,
		model:   config.Model,
		client:  client,
		baseURL: baseURL,
	}, nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// StreamChat starts a streaming chat completion against the Messages API
func (p *AnthropicProvider) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	payload := map[string]any{
		"model":      model,
		"max_tokens": req.MaxTokens,
		"messages":   req.Messages,
		"stream":     true,
	}
	if req.System != "" {
		payload["system"] = req.System
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status=%d, body=%s", ErrProviderUnavailable, resp.StatusCode, string(respBody))
	}

	return newAnthropicStream(resp.Body), nil
}

// Close cleans up resources
func (p *AnthropicProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// anthropicStream parses the Messages API server-sent event stream
type anthropicStream struct {
	scanner *bufio.Scanner
	closer  io.Closer
	usage   Usage
}

func newAnthropicStream(r io.ReadCloser) *anthropicStream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &anthropicStream{
		scanner: scanner,
		closer:  r,
	}
}

// anthropicEvent covers the event payloads we care about; other event types
// (ping, content_block_start, content_block_stop) are skipped
type anthropicEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Read returns the next content delta, usage report, or done marker
func (s *anthropicStream) Read() (*StreamEvent, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()

		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		data := bytes.TrimPrefix(line, []byte("data: "))

		var event anthropicEvent
		if err := json.Unmarshal(data, &event); err != nil {
			continue // Skip malformed events
		}

		switch event.Type {
		case "message_start":
			s.usage.InputTokens = event.Message.Usage.InputTokens
			s.usage.OutputTokens = event.Message.Usage.OutputTokens

		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				return &StreamEvent{Text: event.Delta.Text}, nil
			}

		case "message_delta":
			// Output token count here is cumulative for the message
			if event.Usage.OutputTokens > 0 {
				s.usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			usage := s.usage
			return &StreamEvent{Usage: &usage, Done: true}, nil

		case "error":
			err := fmt.Errorf("stream error: %s: %s", event.Error.Type, event.Error.Message)
			return &StreamEvent{Error: err}, err
		}
	}

	if err := s.scanner.Err(); err != nil {
		return &StreamEvent{Error: err}, err
	}

	// Stream ended without a message_stop; report what we have
	usage := s.usage
	return &StreamEvent{Usage: &usage, Done: true}, io.EOF
}

// Close closes the stream
func (s *anthropicStream) Close() error {
	return s.closer.Close()
}
