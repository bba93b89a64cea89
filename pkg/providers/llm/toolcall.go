package llm

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// ToolDefinition is forwarded verbatim to the model as part of the `tools`
// array; Parameters is an opaque JSON-object tree.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToOpenAITools renders tool definitions in the OpenAI-compatible
// `{type:"function", function:{...}}` wire shape.
func ToOpenAITools(defs []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	return out
}

// RawToolCall is the `{id, type, function:{name, arguments}}` record placed
// verbatim into the assistant message that triggered tool calls, to
// guarantee a byte-faithful round trip back to the model.
type RawToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function RawToolFunction `json:"function"`
}

type RawToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletedToolCall is the parsed, ready-to-execute form of a tool call.
type CompletedToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolResult is the upstream-supplied outcome of executing a completed
// tool call, keyed back to it by ID.
type ToolResult struct {
	ToolCallID string
	Content    string
}

// toolCallSlot accumulates one indexed tool call across streaming deltas.
// id and name are first-write-wins (non-empty writes only); arguments is
// an append-only ordered concatenation of fragments.
type toolCallSlot struct {
	id        string
	name      string
	arguments strings.Builder
}

// ToolCallDelta mirrors one streamed `delta.tool_calls[i]` entry.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ToolCallAccumulator reassembles streaming tool-call fragments by index.
type ToolCallAccumulator struct {
	slots  []*toolCallSlot
	logger orchestrator.Logger
}

// NewToolCallAccumulator returns an empty accumulator. A nil logger
// falls back to the no-op logger.
func NewToolCallAccumulator(logger orchestrator.Logger) *ToolCallAccumulator {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &ToolCallAccumulator{logger: logger}
}

// HasCalls reports whether any slot has been written to.
func (a *ToolCallAccumulator) HasCalls() bool {
	return len(a.slots) > 0
}

// Accumulate folds one batch of deltas (one SSE chunk's worth) into the
// accumulator's slots, growing the slot slice as needed.
func (a *ToolCallAccumulator) Accumulate(deltas []ToolCallDelta) {
	for _, d := range deltas {
		idx := d.Index
		for len(a.slots) <= idx {
			a.slots = append(a.slots, &toolCallSlot{})
		}
		slot := a.slots[idx]
		if slot.id == "" && d.ID != "" {
			slot.id = d.ID
		}
		if slot.name == "" && d.Name != "" {
			slot.name = d.Name
		}
		if d.Arguments != "" {
			slot.arguments.WriteString(d.Arguments)
		}
	}
}

// ToRaw emits the current slots as RawToolCall records, in index order, for
// inclusion in the assistant message that triggered the calls.
func (a *ToolCallAccumulator) ToRaw() []RawToolCall {
	out := make([]RawToolCall, 0, len(a.slots))
	for _, s := range a.slots {
		out = append(out, RawToolCall{
			ID:   s.id,
			Type: "function",
			Function: RawToolFunction{
				Name:      s.name,
				Arguments: s.arguments.String(),
			},
		})
	}
	return out
}

// TakeCompleted consumes the accumulator's slots, filters out empty-name
// entries, parses each arguments string as JSON (falling back to an empty
// object on parse failure), synthesizes ids for slots that lack one, and
// returns the completed calls in index order.
func (a *ToolCallAccumulator) TakeCompleted() []CompletedToolCall {
	slots := a.slots
	a.slots = nil

	out := make([]CompletedToolCall, 0, len(slots))
	for _, s := range slots {
		if s.name == "" {
			continue
		}
		args := map[string]interface{}{}
		raw := strings.TrimSpace(s.arguments.String())
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				a.logger.Warn("tool call arguments are not valid JSON, using empty object",
					"tool", s.name, "error", err)
				args = map[string]interface{}{}
			}
		}
		id := s.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out = append(out, CompletedToolCall{ID: id, Name: s.name, Arguments: args})
	}
	return out
}

// ParseToolCallFromText is the text-parse fallback used by
// providers that do not support native tool calling. It scans for JSON
// blocks and matches one of three shapes:
//
//	{tool, args|arguments}
//	{name, arguments|args}
//	{function_call:{name, arguments}}
//
// The first matching candidate, by order of appearance, wins.
func ParseToolCallFromText(text string) (*CompletedToolCall, bool) {
	for _, candidate := range extractJSONBlocks(text) {
		if call, ok := matchToolShape(candidate); ok {
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()
			}
			return &call, true
		}
	}
	return nil, false
}

func matchToolShape(raw string) (CompletedToolCall, bool) {
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return CompletedToolCall{}, false
	}

	if name, ok := stringField(generic, "tool"); ok {
		args := argsField(generic, "args", "arguments")
		return CompletedToolCall{Name: name, Arguments: args}, true
	}
	if name, ok := stringField(generic, "name"); ok {
		args := argsField(generic, "arguments", "args")
		return CompletedToolCall{Name: name, Arguments: args}, true
	}
	if fc, ok := generic["function_call"].(map[string]interface{}); ok {
		if name, ok := stringField(fc, "name"); ok {
			args := argsField(fc, "arguments", "args")
			return CompletedToolCall{Name: name, Arguments: args}, true
		}
	}
	return CompletedToolCall{}, false
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func argsField(m map[string]interface{}, keys ...string) map[string]interface{} {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case map[string]interface{}:
			return t
		case string:
			var nested map[string]interface{}
			if json.Unmarshal([]byte(t), &nested) == nil {
				return nested
			}
		}
	}
	return map[string]interface{}{}
}

// extractJSONBlocks finds candidate JSON object substrings in text: fenced
// triple-backtick blocks whose body starts with '{', and brace-balanced
// substrings starting at '{' that contain at least one of the keywords
// "tool", "name", "function" and respect string escapes.
func extractJSONBlocks(text string) []string {
	var out []string
	out = append(out, fencedBlocks(text)...)
	out = append(out, braceBalancedBlocks(text)...)
	return out
}

func fencedBlocks(text string) []string {
	var out []string
	const fence = "```"
	rest := text
	for {
		start := strings.Index(rest, fence)
		if start < 0 {
			break
		}
		rest = rest[start+len(fence):]
		// Skip an optional language tag line (e.g. "json").
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(rest[:nl]), "{") {
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, fence)
		if end < 0 {
			break
		}
		body := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(body, "{") {
			out = append(out, body)
		}
		rest = rest[end+len(fence):]
	}
	return out
}

func braceBalancedBlocks(text string) []string {
	var out []string
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '{' {
			continue
		}
		end, ok := matchBrace(runes, i)
		if !ok {
			continue
		}
		candidate := string(runes[i : end+1])
		if containsKeyword(candidate, "tool", "name", "function") {
			out = append(out, candidate)
		}
	}
	return out
}

// matchBrace returns the index of the closing brace matching the opening
// brace at start, respecting (escape-aware) string literals.
func matchBrace(runes []rune, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(runes); i++ {
		r := runes[i]
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func containsKeyword(s string, keywords ...string) bool {
	lower := strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
