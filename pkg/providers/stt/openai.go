package stt

import (
	"context"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// OpenAISTT transcribes pipeline-rate float32 PCM through the OpenAI
// audio transcription endpoint.
type OpenAISTT struct {
	apiKey string
	url    string
	model  string
	lang   orchestrator.Language

	stream streamBuffer
}

func NewOpenAISTT(apiKey string, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/audio/transcriptions",
		model:  model,
	}
}

// WithLanguage sets the language hint forwarded on every request.
func (s *OpenAISTT) WithLanguage(lang orchestrator.Language) *OpenAISTT {
	s.lang = lang
	return s
}

func (s *OpenAISTT) Name() string { return "openai_stt" }

// IsReady is always true for hosted engines.
func (s *OpenAISTT) IsReady() bool { return true }

// Transcribe uploads the utterance as a 16kHz mono WAV and returns the
// recognized text.
func (s *OpenAISTT) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	fields := map[string]string{"model": s.model}
	if s.lang != "" {
		fields["language"] = string(s.lang)
	}
	wav := audio.NewWavBufferFloat32(pcm, audio.TargetSampleRate)
	return postWAVForm(ctx, s.url, s.apiKey, fields, wav)
}

// TranscribeStreaming buffers two seconds of audio before a batch call.
func (s *OpenAISTT) TranscribeStreaming(chunk []float32) (string, bool, error) {
	pcm, full := s.stream.feed(chunk)
	if !full {
		return "", false, nil
	}
	text, err := s.Transcribe(context.Background(), pcm)
	return text, true, err
}
