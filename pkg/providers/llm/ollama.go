package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// OllamaLLM is the local-server-tagged chat backend: a thin adapter over
// the official Ollama client for callers that want the first-class Ollama
// wire protocol instead of the generic OpenAI-compatible SSE path that
// StreamingProvider speaks when ProviderType is ProviderLocalServer.
type OllamaLLM struct {
	client      *api.Client
	model       string
	contextSize int
}

// NewOllamaLLM builds a client against an Ollama-compatible host (default
// "http://localhost:11434" if host is empty).
func NewOllamaLLM(host, model string) (*OllamaLLM, error) {
	if host == "" {
		host = DefaultEndpoint(ProviderLocalServer)
	}
	if model == "" {
		model = DefaultModel(ProviderLocalServer)
	}
	parsed, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	httpClient := &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &OllamaLLM{
		client: api.NewClient(parsed, httpClient),
		model:  model,
	}, nil
}

// SetContextSize configures the `num_ctx` request option (mirrors
// Config.ContextSize on StreamingProvider for the same provider tag).
func (l *OllamaLLM) SetContextSize(n int) { l.contextSize = n }

// Complete satisfies orchestrator.LLMProvider with a single non-streaming
// chat call; conversation history is caller-owned (messages is the full
// turn), matching every other adapter in this package.
func (l *OllamaLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	apiMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]interface{}{}
	if l.contextSize > 0 {
		options["num_ctx"] = l.contextSize
	}

	stream := false
	var response api.ChatResponse
	err := l.client.Chat(ctx, &api.ChatRequest{
		Model:    l.model,
		Messages: apiMessages,
		Stream:   &stream,
		Options:  options,
	}, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat request failed: %w", err)
	}

	return strings.TrimSpace(response.Message.Content), nil
}

func (l *OllamaLLM) Name() string {
	return "ollama-llm"
}

// HealthCheck verifies the Ollama server is reachable, mirroring the
// original client's startup check.
func (l *OllamaLLM) HealthCheck(ctx context.Context) error {
	if err := l.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach ollama: %w", err)
	}
	return nil
}
