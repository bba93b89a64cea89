package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTrimHistoryKeepsSystemPrefix(t *testing.T) {
	history := []ConvMessage{
		{Role: RoleSystem, Content: "sys"},
	}
	for i := 0; i < 30; i++ {
		history = append(history, ConvMessage{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i)})
	}
	trimmed := trimHistory(history, maxHistoryMessages)
	if trimmed[0].Role != RoleSystem {
		t.Fatalf("expected system prefix preserved, got %+v", trimmed[0])
	}
	if len(trimmed) != 1+maxHistoryMessages {
		t.Fatalf("got %d messages, want %d", len(trimmed), 1+maxHistoryMessages)
	}
}

// TestTrimHistoryNeverOrphansToolResults exercises the pairing invariant:
// after trimming, no role:tool message appears without a preceding
// assistant message carrying its tool_call_id.
func TestTrimHistoryNeverOrphansToolResults(t *testing.T) {
	var history []ConvMessage
	for i := 0; i < 25; i++ {
		history = append(history,
			ConvMessage{Role: RoleUser, Content: "ask"},
			ConvMessage{Role: RoleAssistant, ToolCalls: []RawToolCall{{ID: fmt.Sprintf("id-%d", i)}}},
			ConvMessage{Role: RoleTool, ToolCallID: fmt.Sprintf("id-%d", i), Content: "result"},
		)
	}
	trimmed := trimHistory(history, maxHistoryMessages)

	seenIDs := map[string]bool{}
	for _, m := range trimmed {
		if m.Role == RoleAssistant {
			for _, tc := range m.ToolCalls {
				seenIDs[tc.ID] = true
			}
		}
		if m.Role == RoleTool {
			if !seenIDs[m.ToolCallID] {
				t.Fatalf("orphaned tool result for id %q in trimmed history", m.ToolCallID)
			}
		}
	}
}

func TestCheckToolIterationLimitBoundsReentry(t *testing.T) {
	p := NewStreamingProvider(Config{ProviderType: ProviderOpenAI})
	exceeded := false
	for i := 0; i < maxToolIterations+5; i++ {
		if p.CheckToolIterationLimit() {
			exceeded = true
			if i+1 <= maxToolIterations {
				t.Fatalf("limit exceeded too early at iteration %d", i+1)
			}
			break
		}
	}
	if !exceeded {
		t.Fatalf("expected iteration limit to eventually be exceeded")
	}

	select {
	case evt := <-p.Events():
		if evt.Kind != "Output" || evt.Text != "[Max tool iterations reached]" {
			t.Fatalf("got %+v, want max-iterations Output event", evt)
		}
	default:
		t.Fatalf("expected the provider to emit the max-iterations Output event")
	}
}

func TestStreamingProviderSSEEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewStreamingProvider(Config{ProviderType: ProviderOpenAI, BaseURL: srv.URL, Model: "test-model"})
	p.Start()
	<-p.Events() // Ready

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.SendUserText(ctx, "hi")

	var tokens string
	var gotEnd, gotResp bool
	for i := 0; i < 10; i++ {
		select {
		case evt := <-p.Events():
			switch evt.Kind {
			case "StreamToken":
				tokens += evt.Text
			case "StreamEnd":
				gotEnd = true
			case "Response":
				gotResp = true
			}
		case <-time.After(2 * time.Second):
			i = 10
		}
		if gotResp {
			break
		}
	}
	if tokens != "Hello" {
		t.Fatalf("tokens = %q, want Hello", tokens)
	}
	if !gotEnd || !gotResp {
		t.Fatalf("gotEnd=%v gotResp=%v", gotEnd, gotResp)
	}
}

func TestStreamingProviderNonNativeToolFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		payload := `{"tool": "memory_search", "args": {"query": "hi"}}`
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q},\"finish_reason\":\"stop\"}]}\n\n", "```json\n"+payload+"\n```")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewStreamingProvider(Config{ProviderType: ProviderLocalServer, BaseURL: srv.URL, Model: "local"})
	p.SetTools([]ToolDefinition{{Name: "memory_search"}})
	p.Start()
	<-p.Events()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.SendUserText(ctx, "search please")

	for i := 0; i < 10; i++ {
		select {
		case evt := <-p.Events():
			if evt.Kind == "ToolCalls" {
				if len(evt.Calls) != 1 || evt.Calls[0].Name != "memory_search" {
					t.Fatalf("unexpected tool calls: %+v", evt.Calls)
				}
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for ToolCalls event")
		}
	}
	t.Fatalf("did not observe ToolCalls event")
}

func TestStreamingProviderInterruptEmitsCancelledOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		// Hold the stream open until the client aborts the request.
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewStreamingProvider(Config{ProviderType: ProviderOpenAI, BaseURL: srv.URL, Model: "test-model"})
	p.Start()
	<-p.Events() // Ready

	go p.SendUserText(context.Background(), "hi")

	// Wait for the first token so the interrupt lands mid-stream.
	select {
	case evt := <-p.Events():
		if evt.Kind != "StreamToken" {
			t.Fatalf("first event = %q, want StreamToken", evt.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first token")
	}

	p.Interrupt()

	var gotCancelled bool
	for !gotCancelled {
		select {
		case evt := <-p.Events():
			switch evt.Kind {
			case "Output":
				if evt.Text != "[Cancelled]" {
					t.Fatalf("Output text = %q, want [Cancelled]", evt.Text)
				}
				gotCancelled = true
			case "StreamEnd", "Response", "ToolCalls", "Error":
				t.Fatalf("partially-read cancelled stream emitted %q", evt.Kind)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for [Cancelled] output")
		}
	}
}

func TestStreamingProviderNon2xxEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	}))
	defer srv.Close()

	p := NewStreamingProvider(Config{ProviderType: ProviderOpenAI, BaseURL: srv.URL})
	p.Start()
	<-p.Events()

	p.SendUserText(context.Background(), "hi")
	evt := <-p.Events()
	if evt.Kind != "Error" {
		t.Fatalf("kind = %q, want Error", evt.Kind)
	}
}
