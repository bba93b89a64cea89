package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// ProviderType tags which chat-completions-compatible backend a
// StreamingProvider talks to. It selects the default endpoint/model, the
// display name, and whether native tool calling is available.
type ProviderType string

const (
	ProviderOpenAI      ProviderType = "openai"
	ProviderGemini      ProviderType = "gemini"
	ProviderGroq        ProviderType = "groq"
	ProviderGrok        ProviderType = "grok"
	ProviderMistral     ProviderType = "mistral"
	ProviderOpenRouter  ProviderType = "openrouter"
	ProviderDeepSeek    ProviderType = "deepseek"
	ProviderLocalServer ProviderType = "local-server"
)

// nativeToolCallingAllowList is the fixed set of providers whose chat
// endpoint supports the `tools`/`tool_choice` request fields natively.
// Every other provider type uses the text-parse fallback.
var nativeToolCallingAllowList = map[ProviderType]bool{
	ProviderOpenAI:     true,
	ProviderGemini:     true,
	ProviderGroq:       true,
	ProviderGrok:       true,
	ProviderMistral:    true,
	ProviderOpenRouter: true,
	ProviderDeepSeek:   true,
}

func supportsNativeToolCalling(p ProviderType) bool { return nativeToolCallingAllowList[p] }

// defaultEndpoints and defaultModels are the per-provider-type tables
// used when the caller does not configure an endpoint or model.
var defaultEndpoints = map[ProviderType]string{
	ProviderOpenAI:      "https://api.openai.com",
	ProviderGemini:      "https://generativelanguage.googleapis.com/v1beta/openai",
	ProviderGroq:        "https://api.groq.com/openai",
	ProviderGrok:        "https://api.x.ai",
	ProviderMistral:     "https://api.mistral.ai",
	ProviderOpenRouter:  "https://openrouter.ai/api",
	ProviderDeepSeek:    "https://api.deepseek.com",
	ProviderLocalServer: "http://localhost:11434",
}

var defaultModels = map[ProviderType]string{
	ProviderOpenAI:      "gpt-4o-mini",
	ProviderGemini:      "gemini-1.5-flash",
	ProviderGroq:        "llama-3.3-70b-versatile",
	ProviderGrok:        "grok-2-latest",
	ProviderMistral:     "mistral-small-latest",
	ProviderOpenRouter:  "openrouter/auto",
	ProviderDeepSeek:    "deepseek-chat",
	ProviderLocalServer: "llama3.2",
}

var providerDisplayNames = map[ProviderType]string{
	ProviderOpenAI:      "OpenAI",
	ProviderGemini:      "Gemini",
	ProviderGroq:        "Groq",
	ProviderGrok:        "Grok",
	ProviderMistral:     "Mistral",
	ProviderOpenRouter:  "OpenRouter",
	ProviderDeepSeek:    "DeepSeek",
	ProviderLocalServer: "Local Server",
}

func DefaultEndpoint(p ProviderType) string { return defaultEndpoints[p] }
func DefaultModel(p ProviderType) string    { return defaultModels[p] }
func ProviderDisplayName(p ProviderType) string {
	if n, ok := providerDisplayNames[p]; ok {
		return n
	}
	return string(p)
}

const (
	// maxHistoryMessages bounds the non-system tail kept across trimming.
	maxHistoryMessages = 20
	// maxToolIterations bounds the tool-result re-entry loop per user turn.
	maxToolIterations = 10
	// chatCompletionsPath is the default request path.
	chatCompletionsPath = "/v1/chat/completions"
	// requestTimeout is the HTTP request budget.
	requestTimeout = 120 * time.Second
)

// Role tags one of the heterogeneous conversation message shapes.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ConvMessage is the tagged-variant conversation message record. Only the
// fields relevant to Role are populated; MarshalJSON is the single
// serialization path to wire JSON for every variant.
type ConvMessage struct {
	Role       Role
	Content    string
	ToolCalls  []RawToolCall // assistant-with-tool-calls only
	ToolCallID string        // tool-result only
}

func (m ConvMessage) MarshalJSON() ([]byte, error) {
	wire := map[string]interface{}{"role": string(m.Role)}
	switch m.Role {
	case RoleTool:
		wire["tool_call_id"] = m.ToolCallID
		wire["content"] = m.Content
	default:
		if len(m.ToolCalls) > 0 {
			wire["tool_calls"] = m.ToolCalls
			if m.Content != "" {
				wire["content"] = m.Content
			} else {
				wire["content"] = nil
			}
		} else {
			wire["content"] = m.Content
		}
	}
	return json.Marshal(wire)
}

// StreamEvent is one entry on the provider's event sink.
type StreamEvent struct {
	Kind         string // Output | StreamToken | StreamEnd | Response | ToolCalls | Ready | Error
	Text         string
	Calls        []CompletedToolCall
	ResponseText string
	RawToolCalls []RawToolCall
	Message      string
}

// Config configures a StreamingProvider.
type Config struct {
	ProviderType ProviderType
	BaseURL      string
	Path         string // default chatCompletionsPath
	BearerToken  string
	Model        string
	ContextSize  int
	SystemPrompt string
	Logger       orchestrator.Logger // nil falls back to the no-op logger
}

// StreamingProvider is the streaming chat-completions client: SSE
// parsing, native + text-parsed tool calling, history trimming, and a
// bounded tool-iteration loop.
type StreamingProvider struct {
	cfg    Config
	client *http.Client
	events chan StreamEvent

	mu             sync.Mutex
	history        []ConvMessage
	tools          []ToolDefinition
	toolIterations int
	running        bool
	abort          bool
	cancelInFlight context.CancelFunc
}

// NewStreamingProvider builds a provider. If cfg.Path is empty it defaults
// to "/v1/chat/completions".
func NewStreamingProvider(cfg Config) *StreamingProvider {
	if cfg.Path == "" {
		cfg.Path = chatCompletionsPath
	}
	if cfg.Logger == nil {
		cfg.Logger = &orchestrator.NoOpLogger{}
	}
	return &StreamingProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		events: make(chan StreamEvent, 64),
	}
}

// Events exposes the event sink.
func (p *StreamingProvider) Events() <-chan StreamEvent { return p.events }

func (p *StreamingProvider) emit(evt StreamEvent) {
	select {
	case p.events <- evt:
	default:
	}
}

// SetTools configures the tool list forwarded on every request.
func (p *StreamingProvider) SetTools(tools []ToolDefinition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = tools
}

// Start clears history, appends the system prompt if configured, resets
// the tool-iteration counter, and emits Ready.
func (p *StreamingProvider) Start() {
	p.mu.Lock()
	p.history = nil
	if p.cfg.SystemPrompt != "" {
		p.history = append(p.history, ConvMessage{Role: RoleSystem, Content: p.cfg.SystemPrompt})
	}
	p.toolIterations = 0
	p.running = true
	p.mu.Unlock()
	p.emit(StreamEvent{Kind: "Ready"})
}

// Stop raises the abort flag, clears history and tools, resets the
// iteration counter, and aborts any in-flight request.
func (p *StreamingProvider) Stop() {
	p.mu.Lock()
	p.abort = true
	p.running = false
	p.history = nil
	p.tools = nil
	p.toolIterations = 0
	cancel := p.cancelInFlight
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Interrupt raises the abort flag and aborts the in-flight request but
// keeps history and tools intact.
func (p *StreamingProvider) Interrupt() {
	p.mu.Lock()
	p.abort = true
	cancel := p.cancelInFlight
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SendUserText appends a user message (with an optional reinforcement
// nudge first) and invokes the shared send path.
func (p *StreamingProvider) SendUserText(ctx context.Context, text string) {
	p.mu.Lock()
	if len(p.history) >= 2 && p.cfg.SystemPrompt != "" {
		p.history = append(p.history, ConvMessage{
			Role:    RoleSystem,
			Content: "Remember: answer only what was asked. Stay on topic.",
		})
	}
	p.history = append(p.history, ConvMessage{Role: RoleUser, Content: text})
	p.toolIterations = 0
	p.mu.Unlock()

	p.sharedSend(ctx)
}

// AddAssistantToolCallMessage appends the assistant message that triggered
// tool calls, carrying the raw tool-calls array byte-faithfully.
func (p *StreamingProvider) AddAssistantToolCallMessage(responseText string, raw []RawToolCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, ConvMessage{Role: RoleAssistant, Content: responseText, ToolCalls: raw})
}

// CheckToolIterationLimit increments the per-turn tool-iteration counter
// and reports whether it now exceeds maxToolIterations. Crossing the
// limit emits the max-iterations Output event on the provider's sink;
// callers must stop re-entering the send path when this returns true.
func (p *StreamingProvider) CheckToolIterationLimit() bool {
	p.mu.Lock()
	p.toolIterations++
	exceeded := p.toolIterations > maxToolIterations
	p.mu.Unlock()

	if exceeded {
		p.emit(StreamEvent{Kind: "Output", Text: "[Max tool iterations reached]"})
	}
	return exceeded
}

// InjectToolResults appends tool-result messages (native `role:tool`, or a
// synthetic user message for the text-fallback path) and re-enters the
// shared send path.
func (p *StreamingProvider) InjectToolResults(ctx context.Context, results []ToolResult) {
	p.mu.Lock()
	native := supportsNativeToolCalling(p.cfg.ProviderType)
	if native {
		for _, r := range results {
			p.history = append(p.history, ConvMessage{Role: RoleTool, ToolCallID: r.ToolCallID, Content: r.Content})
		}
	} else {
		var sb strings.Builder
		sb.WriteString("[Tool Result]\n")
		for _, r := range results {
			sb.WriteString(r.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\nAnswer using only this data. Do not reply with JSON or markdown.")
		p.history = append(p.history, ConvMessage{Role: RoleUser, Content: sb.String()})
	}
	p.mu.Unlock()

	p.sharedSend(ctx)
}

// sharedSend applies history trimming, builds the request body, and
// performs the streaming POST.
func (p *StreamingProvider) sharedSend(ctx context.Context) {
	p.mu.Lock()
	p.history = trimHistory(p.history, maxHistoryMessages)
	p.abort = false
	reqCtx, cancel := context.WithCancel(ctx)
	p.cancelInFlight = cancel
	history := append([]ConvMessage(nil), p.history...)
	tools := append([]ToolDefinition(nil), p.tools...)
	native := supportsNativeToolCalling(p.cfg.ProviderType)
	p.mu.Unlock()

	body := p.buildRequestBody(history, tools, native)
	p.streamRequest(reqCtx, body, native)
}

func (p *StreamingProvider) buildRequestBody(history []ConvMessage, tools []ToolDefinition, native bool) map[string]interface{} {
	body := map[string]interface{}{
		"model":    p.cfg.Model,
		"messages": history,
		"stream":   true,
	}
	if p.cfg.ProviderType == ProviderLocalServer && p.cfg.ContextSize > 0 {
		body["options"] = map[string]interface{}{"num_ctx": p.cfg.ContextSize}
	}
	if len(tools) > 0 && native {
		body["tools"] = ToOpenAITools(tools)
		body["tool_choice"] = "auto"
	}
	return body
}

// streamRequest performs the streaming POST and parses the SSE response.
func (p *StreamingProvider) streamRequest(ctx context.Context, body map[string]interface{}, native bool) {
	payload, err := json.Marshal(body)
	if err != nil {
		p.emit(StreamEvent{Kind: "Error", Message: err.Error()})
		return
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		p.emit(StreamEvent{Kind: "Error", Message: err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.BearerToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if p.isAborted() {
			p.emit(StreamEvent{Kind: "Output", Text: "[Cancelled]"})
			return
		}
		p.emit(StreamEvent{Kind: "Error", Message: err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.emit(StreamEvent{Kind: "Error", Message: fmt.Sprintf("chat endpoint returned HTTP %d", resp.StatusCode)})
		return
	}

	p.consumeSSE(resp, native)
}

type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// consumeSSE reassembles lines across chunk boundaries (the last partial
// line of each read is carried to the next), parses `data: ` lines as
// JSON, and drives tool-call accumulation + StreamToken emission.
func (p *StreamingProvider) consumeSSE(resp *http.Response, native bool) {
	acc := NewToolCallAccumulator(p.cfg.Logger)
	var fullText strings.Builder
	var finishReason string

	reader := bufio.NewReader(resp.Body)
	var leftover string
	buf := make([]byte, 4096)

	for {
		if p.isAborted() {
			p.emit(StreamEvent{Kind: "Output", Text: "[Cancelled]"})
			return
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			chunk := leftover + string(buf[:n])
			lines := strings.Split(chunk, "\n")
			leftover = lines[len(lines)-1]
			lines = lines[:len(lines)-1]

			for _, line := range lines {
				line = strings.TrimRight(line, "\r")
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				payload := strings.TrimPrefix(line, "data: ")
				if payload == "[DONE]" {
					continue
				}
				var delta sseDelta
				if err := json.Unmarshal([]byte(payload), &delta); err != nil {
					continue // malformed SSE line: logged-and-skipped
				}
				if len(delta.Choices) == 0 {
					continue
				}
				c := delta.Choices[0]
				if c.Delta.Content != "" {
					fullText.WriteString(c.Delta.Content)
					p.emit(StreamEvent{Kind: "StreamToken", Text: c.Delta.Content})
				}
				if native && len(c.Delta.ToolCalls) > 0 {
					var deltas []ToolCallDelta
					for _, tc := range c.Delta.ToolCalls {
						deltas = append(deltas, ToolCallDelta{
							Index: tc.Index, ID: tc.ID,
							Name: tc.Function.Name, Arguments: tc.Function.Arguments,
						})
					}
					acc.Accumulate(deltas)
				}
				if c.FinishReason != "" {
					finishReason = c.FinishReason
				}
			}
		}

		if readErr != nil {
			// A cancelled request surfaces here as a read error; a
			// partially-read stream must not produce ToolCalls or a
			// final Response.
			if p.isAborted() {
				p.emit(StreamEvent{Kind: "Output", Text: "[Cancelled]"})
				return
			}
			break
		}
	}

	p.finishStream(acc, fullText.String(), finishReason, native)
}

func (p *StreamingProvider) finishStream(acc *ToolCallAccumulator, text, finishReason string, native bool) {
	if acc.HasCalls() && (finishReason == "tool_calls" || finishReason == "stop") {
		raw := acc.ToRaw()
		calls := acc.TakeCompleted()
		p.emit(StreamEvent{Kind: "ToolCalls", Calls: calls, ResponseText: text, RawToolCalls: raw})
		return
	}

	if !native {
		p.mu.Lock()
		hasTools := len(p.tools) > 0
		p.mu.Unlock()
		if hasTools && text != "" {
			if call, ok := ParseToolCallFromText(text); ok {
				call.ID = "call_" + uuid.NewString()
				p.emit(StreamEvent{Kind: "ToolCalls", Calls: []CompletedToolCall{*call}, ResponseText: text})
				return
			}
		}
	}

	p.emit(StreamEvent{Kind: "StreamEnd", Text: text})
	p.emit(StreamEvent{Kind: "Response", Text: text})
}

func (p *StreamingProvider) isAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abort
}

// trimHistory keeps system-prefix messages intact, keeps the last n of the
// non-system tail, and advances the window start past any leading
// role:tool message so a tool-result is never orphaned from its assistant
// message.
func trimHistory(history []ConvMessage, n int) []ConvMessage {
	split := 0
	for split < len(history) && history[split].Role == RoleSystem {
		split++
	}
	prefix := history[:split]
	tail := history[split:]

	if len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	for len(tail) > 0 && tail[0].Role == RoleTool {
		tail = tail[1:]
	}

	out := make([]ConvMessage, 0, len(prefix)+len(tail))
	out = append(out, prefix...)
	out = append(out, tail...)
	return out
}
