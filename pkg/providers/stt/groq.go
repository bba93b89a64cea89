package stt

import (
	"context"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// GroqSTT transcribes pipeline-rate float32 PCM through Groq's hosted
// Whisper endpoint. It satisfies the same adapter surface as LocalEngine
// so the pipeline can swap between local and hosted inference.
type GroqSTT struct {
	apiKey string
	url    string
	model  string
	lang   orchestrator.Language

	stream streamBuffer
}

func NewGroqSTT(apiKey string, model string) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqSTT{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/audio/transcriptions",
		model:  model,
	}
}

// WithLanguage sets the language hint forwarded on every request.
func (s *GroqSTT) WithLanguage(lang orchestrator.Language) *GroqSTT {
	s.lang = lang
	return s
}

// Transcribe uploads the utterance as a 16kHz mono WAV and returns the
// recognized text.
func (s *GroqSTT) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	fields := map[string]string{"model": s.model}
	if s.lang != "" {
		fields["language"] = string(s.lang)
	}
	wav := audio.NewWavBufferFloat32(pcm, audio.TargetSampleRate)
	return postWAVForm(ctx, s.url, s.apiKey, fields, wav)
}

// TranscribeStreaming buffers two seconds of audio before a batch call.
func (s *GroqSTT) TranscribeStreaming(chunk []float32) (string, bool, error) {
	pcm, full := s.stream.feed(chunk)
	if !full {
		return "", false, nil
	}
	text, err := s.Transcribe(context.Background(), pcm)
	return text, true, err
}

func (s *GroqSTT) Name() string { return "groq-stt" }

// IsReady is always true for hosted engines; there is no model to load.
func (s *GroqSTT) IsReady() bool { return true }
