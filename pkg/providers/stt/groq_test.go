package stt

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func TestGroqSTTTranscribe(t *testing.T) {
	var gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotLang = r.FormValue("language")

		json.NewEncoder(w).Encode(struct {
			Text string `json:"text"`
		}{Text: "groq transcription"})
	}))
	defer server.Close()

	s := NewGroqSTT("test-key", "whisper-large-v3").WithLanguage(orchestrator.LanguageEn)
	s.url = server.URL

	result, err := s.Transcribe(context.Background(), make([]float32, 1600))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "groq transcription" {
		t.Errorf("expected 'groq transcription', got '%s'", result)
	}
	if gotLang != "en" {
		t.Errorf("language field = %q, want en", gotLang)
	}
	if s.Name() != "groq-stt" {
		t.Errorf("expected groq-stt, got %s", s.Name())
	}
	if !s.IsReady() {
		t.Errorf("hosted engine should always be ready")
	}
}

func TestGroqSTTStreamingBuffersTwoSeconds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(struct {
			Text string `json:"text"`
		}{Text: "done"})
	}))
	defer server.Close()

	s := NewGroqSTT("test-key", "")
	s.url = server.URL

	oneSecond := make([]float32, sampleRate)
	if _, ready, _ := s.TranscribeStreaming(oneSecond); ready {
		t.Fatalf("not enough audio buffered yet, ready should be false")
	}
	if calls != 0 {
		t.Fatalf("no request expected before the buffer fills")
	}

	text, ready, err := s.TranscribeStreaming(oneSecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ready || text != "done" {
		t.Fatalf("ready=%v text=%q, want ready with text", ready, text)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one batch call, got %d", calls)
	}
}
