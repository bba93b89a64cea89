package llm

import (
	"reflect"
	"testing"
)

func TestToolCallAccumulatorReassemblesSplitArguments(t *testing.T) {
	a := NewToolCallAccumulator(nil)

	a.Accumulate([]ToolCallDelta{
		{Index: 0, ID: "call_abc", Name: "browser_goto", Arguments: `{"url`},
	})
	a.Accumulate([]ToolCallDelta{
		{Index: 0, Arguments: `":"https://example.com"}`},
	})

	if !a.HasCalls() {
		t.Fatalf("expected HasCalls() true")
	}

	completed := a.TakeCompleted()
	if len(completed) != 1 {
		t.Fatalf("got %d completed calls, want 1", len(completed))
	}
	c := completed[0]
	if c.ID != "call_abc" || c.Name != "browser_goto" {
		t.Fatalf("unexpected call: %+v", c)
	}
	want := map[string]interface{}{"url": "https://example.com"}
	if !reflect.DeepEqual(c.Arguments, want) {
		t.Fatalf("arguments = %v, want %v", c.Arguments, want)
	}
}

func TestToolCallAccumulatorInterleavedIndices(t *testing.T) {
	a := NewToolCallAccumulator(nil)
	// Interleave fragments across two indices out of order within each index's
	// own sequence but indices non-decreasing as delivered.
	a.Accumulate([]ToolCallDelta{{Index: 0, ID: "c0", Name: "f0", Arguments: "{\"a\":"}})
	a.Accumulate([]ToolCallDelta{{Index: 1, ID: "c1", Name: "f1", Arguments: "{\"b\":"}})
	a.Accumulate([]ToolCallDelta{{Index: 0, Arguments: "1}"}})
	a.Accumulate([]ToolCallDelta{{Index: 1, Arguments: "2}"}})

	completed := a.TakeCompleted()
	if len(completed) != 2 {
		t.Fatalf("got %d completed calls, want 2", len(completed))
	}
	if !reflect.DeepEqual(completed[0].Arguments, map[string]interface{}{"a": float64(1)}) {
		t.Fatalf("index 0 arguments = %v", completed[0].Arguments)
	}
	if !reflect.DeepEqual(completed[1].Arguments, map[string]interface{}{"b": float64(2)}) {
		t.Fatalf("index 1 arguments = %v", completed[1].Arguments)
	}
}

func TestToolCallAccumulatorEmptyNameFiltered(t *testing.T) {
	a := NewToolCallAccumulator(nil)
	a.Accumulate([]ToolCallDelta{{Index: 0, ID: "x"}})
	if got := a.TakeCompleted(); len(got) != 0 {
		t.Fatalf("expected empty-name slot filtered out, got %v", got)
	}
}

// recordingLogger captures warnings so tests can assert diagnostics are
// emitted alongside fallback behavior.
type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(msg string, args ...interface{}) {}
func (l *recordingLogger) Info(msg string, args ...interface{})  {}
func (l *recordingLogger) Warn(msg string, args ...interface{})  { l.warnings = append(l.warnings, msg) }
func (l *recordingLogger) Error(msg string, args ...interface{}) {}

func TestToolCallAccumulatorMalformedArgumentsFallsBackToEmptyObject(t *testing.T) {
	logger := &recordingLogger{}
	a := NewToolCallAccumulator(logger)
	a.Accumulate([]ToolCallDelta{{Index: 0, Name: "f", Arguments: "{not json"}})
	got := a.TakeCompleted()
	if len(got) != 1 {
		t.Fatalf("got %d calls, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0].Arguments, map[string]interface{}{}) {
		t.Fatalf("arguments = %v, want empty object", got[0].Arguments)
	}
	if len(logger.warnings) != 1 {
		t.Fatalf("got %d warnings, want 1 for malformed arguments", len(logger.warnings))
	}
}

func TestToolCallAccumulatorSynthesizesMissingID(t *testing.T) {
	a := NewToolCallAccumulator(nil)
	a.Accumulate([]ToolCallDelta{{Index: 0, Name: "f", Arguments: "{}"}})
	got := a.TakeCompleted()
	if len(got) != 1 || got[0].ID == "" {
		t.Fatalf("expected synthesized id, got %+v", got)
	}
}

func TestParseToolCallFromTextFencedToolShape(t *testing.T) {
	input := "```json\n{\"tool\": \"memory_search\", \"args\": {\"query\": \"hello world\"}}\n```"
	call, ok := ParseToolCallFromText(input)
	if !ok {
		t.Fatalf("expected a match")
	}
	if call.Name != "memory_search" {
		t.Fatalf("name = %q, want memory_search", call.Name)
	}
	want := map[string]interface{}{"query": "hello world"}
	if !reflect.DeepEqual(call.Arguments, want) {
		t.Fatalf("arguments = %v, want %v", call.Arguments, want)
	}
	if call.ID == "" {
		t.Fatalf("expected synthesized id")
	}
}

func TestParseToolCallFromTextNameShape(t *testing.T) {
	input := `Sure, I'll do that: {"name": "do_thing", "arguments": {"x": 1}}`
	call, ok := ParseToolCallFromText(input)
	if !ok {
		t.Fatalf("expected a match")
	}
	if call.Name != "do_thing" {
		t.Fatalf("name = %q", call.Name)
	}
}

func TestParseToolCallFromTextFunctionCallShape(t *testing.T) {
	input := `{"function_call": {"name": "lookup", "arguments": "{\"id\": 7}"}}`
	call, ok := ParseToolCallFromText(input)
	if !ok {
		t.Fatalf("expected a match")
	}
	if call.Name != "lookup" {
		t.Fatalf("name = %q", call.Name)
	}
	want := map[string]interface{}{"id": float64(7)}
	if !reflect.DeepEqual(call.Arguments, want) {
		t.Fatalf("arguments = %v, want %v", call.Arguments, want)
	}
}

func TestParseToolCallFromTextNoMatch(t *testing.T) {
	if _, ok := ParseToolCallFromText("just plain text, nothing here"); ok {
		t.Fatalf("expected no match")
	}
}
