package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func newFakeLokutorServer(t *testing.T, chunks [][]byte, trailer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		if req["text"] == "" {
			conn.Write(r.Context(), websocket.MessageText, []byte("ERR: empty text"))
			return
		}

		for _, c := range chunks {
			conn.Write(r.Context(), websocket.MessageBinary, c)
		}
		conn.Write(r.Context(), websocket.MessageText, []byte(trailer))
	}))
}

func testLokutor(server *httptest.Server) *LokutorTTS {
	tts := NewLokutorTTS("test-key", orchestrator.VoiceF1, orchestrator.LanguageEn)
	tts.host = strings.TrimPrefix(server.URL, "http://")
	tts.scheme = "ws"
	return tts
}

func TestLokutorSynthesizeDecodesPCM16(t *testing.T) {
	// Two PCM16LE chunks: [1, 2] and [3].
	server := newFakeLokutorServer(t, [][]byte{{1, 0, 2, 0}, {3, 0}}, "EOS")
	defer server.Close()

	tts := testLokutor(server)
	defer tts.Close()

	pcm, err := tts.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 3 {
		t.Fatalf("got %d samples, want 3", len(pcm))
	}
	if pcm[0] <= 0 || pcm[0] >= 0.001 {
		t.Fatalf("sample 0 = %v, want small positive value", pcm[0])
	}
}

func TestLokutorErrorFrame(t *testing.T) {
	server := newFakeLokutorServer(t, nil, "ERR: voice unavailable")
	defer server.Close()

	tts := testLokutor(server)
	defer tts.Close()

	if _, err := tts.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error from ERR frame")
	}
}

func TestLokutorMetadata(t *testing.T) {
	tts := NewLokutorTTS("k", "", "")
	if tts.Name() != "lokutor" {
		t.Fatalf("Name = %q", tts.Name())
	}
	if tts.SampleRate() != lokutorNativeRate {
		t.Fatalf("SampleRate = %d", tts.SampleRate())
	}
	if tts.voice != orchestrator.VoiceF1 || tts.lang != orchestrator.LanguageEn {
		t.Fatalf("defaults not applied: voice=%q lang=%q", tts.voice, tts.lang)
	}
}
