package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sampleStream = `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":120,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}

event: ping
data: {"type":"ping"}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":540}}

event: message_stop
data: {"type":"message_stop"}

`

func newStreamServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			t.Error("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestAnthropicStreamChat(t *testing.T) {
	server := newStreamServer(t, http.StatusOK, sampleStream)

	p, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "claude-sonnet-4-20250514",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	defer p.Close()

	stream, err := p.StreamChat(context.Background(), ChatRequest{
		System:    "You write marketing copy.",
		Messages:  []ChatMessage{{Role: "user", Content: "Write a post"}},
		MaxTokens: 2048,
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	var usage *Usage

	for {
		event, err := stream.Read()
		if event != nil && event.Text != "" {
			text.WriteString(event.Text)
		}
		if event != nil && event.Usage != nil {
			usage = event.Usage
		}
		if event != nil && event.Done {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}

	if got := text.String(); got != "Hello world" {
		t.Errorf("unexpected text: %q", got)
	}
	if usage == nil {
		t.Fatal("expected usage to be reported")
	}
	if usage.InputTokens != 120 {
		t.Errorf("expected 120 input tokens, got %d", usage.InputTokens)
	}
	if usage.OutputTokens != 540 {
		t.Errorf("expected 540 output tokens, got %d", usage.OutputTokens)
	}
	if usage.Total() != 660 {
		t.Errorf("expected 660 total tokens, got %d", usage.Total())
	}
}

func TestAnthropicStreamChatUpstreamError(t *testing.T) {
	server := newStreamServer(t, http.StatusInternalServerError, `{"error":{"type":"overloaded_error"}}`)

	p, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	defer p.Close()

	_, err = p.StreamChat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	body := `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":10,"output_tokens":1}}}

event: error
data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}

`
	server := newStreamServer(t, http.StatusOK, body)

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	defer p.Close()

	stream, err := p.StreamChat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	defer stream.Close()

	for {
		event, err := stream.Read()
		if event != nil && event.Error != nil {
			return // Error surfaced as expected
		}
		if event != nil && event.Done {
			t.Fatal("expected error event before stream end")
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
}

func TestAnthropicProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
