package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// DeepgramSTT transcribes pipeline-rate float32 PCM through Deepgram's
// prerecorded endpoint; audio is posted as raw linear-16 at the pipeline
// rate, no container needed.
type DeepgramSTT struct {
	apiKey string
	url    string
	lang   orchestrator.Language

	stream streamBuffer
}

func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey: apiKey,
		url:    "https://api.deepgram.com/v1/listen",
	}
}

// WithLanguage sets the language hint forwarded on every request.
func (s *DeepgramSTT) WithLanguage(lang orchestrator.Language) *DeepgramSTT {
	s.lang = lang
	return s
}

func (s *DeepgramSTT) Name() string { return "deepgram-stt" }

// IsReady is always true for hosted engines.
func (s *DeepgramSTT) IsReady() bool { return true }

// deepgramAlternative is one candidate transcript with its confidence.
type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// deepgramResponse covers the slice of Deepgram's prerecorded response
// this adapter consumes: per-channel alternative transcripts.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []deepgramAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// bestTranscript picks the highest-confidence alternative on the mono
// channel; an empty response yields an empty transcript, not an error.
func (r *deepgramResponse) bestTranscript() string {
	best := deepgramAlternative{Confidence: -1}
	for _, ch := range r.Results.Channels {
		for _, alt := range ch.Alternatives {
			if alt.Confidence > best.Confidence {
				best = alt
			}
		}
	}
	return best.Transcript
}

func (s *DeepgramSTT) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("%w: parse endpoint: %v", ErrTranscriptionErr, err)
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	params.Set("encoding", "linear16")
	params.Set("sample_rate", fmt.Sprintf("%d", audio.TargetSampleRate))
	if s.lang != "" {
		params.Set("language", string(s.lang))
	}
	u.RawQuery = params.Encode()

	raw := audio.Float32ToPCM16LE(pcm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrTranscriptionErr, err)
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", audio.TargetSampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionErr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: deepgram HTTP %d: %s", ErrTranscriptionErr, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var result deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode deepgram response: %v", ErrTranscriptionErr, err)
	}
	return result.bestTranscript(), nil
}

// TranscribeStreaming buffers two seconds of audio before a batch call.
func (s *DeepgramSTT) TranscribeStreaming(chunk []float32) (string, bool, error) {
	pcm, full := s.stream.feed(chunk)
	if !full {
		return "", false, nil
	}
	text, err := s.Transcribe(context.Background(), pcm)
	return text, true, err
}
