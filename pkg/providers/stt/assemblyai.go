package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

const (
	assemblyBaseURL      = "https://api.assemblyai.com/v2"
	assemblyPollInterval = 500 * time.Millisecond
)

// AssemblyAISTT transcribes pipeline-rate float32 PCM through the
// AssemblyAI upload/submit/poll flow. Latency is dominated by polling,
// so this adapter suits offline transcription more than the live loop.
type AssemblyAISTT struct {
	apiKey string
	lang   orchestrator.Language

	stream streamBuffer
}

func NewAssemblyAISTT(apiKey string) *AssemblyAISTT {
	return &AssemblyAISTT{apiKey: apiKey}
}

// WithLanguage sets the language code forwarded on submission.
func (s *AssemblyAISTT) WithLanguage(lang orchestrator.Language) *AssemblyAISTT {
	s.lang = lang
	return s
}

func (s *AssemblyAISTT) Name() string { return "assemblyai-stt" }

// IsReady is always true for hosted engines.
func (s *AssemblyAISTT) IsReady() bool { return true }

// assemblyUpload is the response to a raw-audio upload.
type assemblyUpload struct {
	UploadURL string `json:"upload_url"`
}

// assemblyJob is a transcription job record; submit returns it with only
// ID set and polling fills in Status, Text, and Error.
type assemblyJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// call performs one authenticated AssemblyAI request, enforces a 2xx
// status, and decodes the JSON response into out. Every failure mode is
// wrapped in the package's transcription error kind.
func (s *AssemblyAISTT) call(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, assemblyBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", ErrTranscriptionErr, path, err)
	}
	req.Header.Set("Authorization", s.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranscriptionErr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: assemblyai HTTP %d on %s: %s", ErrTranscriptionErr, resp.StatusCode, path, bytes.TrimSpace(detail))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrTranscriptionErr, path, err)
	}
	return nil
}

func (s *AssemblyAISTT) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	wav := audio.NewWavBufferFloat32(pcm, audio.TargetSampleRate)

	var uploaded assemblyUpload
	if err := s.call(ctx, http.MethodPost, "/upload", "application/octet-stream", bytes.NewReader(wav), &uploaded); err != nil {
		return "", err
	}
	if uploaded.UploadURL == "" {
		return "", fmt.Errorf("%w: assemblyai upload returned no url", ErrTranscriptionErr)
	}

	submission := map[string]string{"audio_url": uploaded.UploadURL}
	if s.lang != "" {
		submission["language_code"] = string(s.lang)
	}
	payload, err := json.Marshal(submission)
	if err != nil {
		return "", fmt.Errorf("%w: encode submission: %v", ErrTranscriptionErr, err)
	}
	var job assemblyJob
	if err := s.call(ctx, http.MethodPost, "/transcript", "application/json", bytes.NewReader(payload), &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("%w: assemblyai submission returned no job id", ErrTranscriptionErr)
	}

	return s.awaitJob(ctx, job.ID)
}

// awaitJob polls the job until it settles. AssemblyAI reports "queued"
// and "processing" before a terminal "completed" or "error".
func (s *AssemblyAISTT) awaitJob(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(assemblyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			var job assemblyJob
			if err := s.call(ctx, http.MethodGet, "/transcript/"+id, "", nil, &job); err != nil {
				return "", err
			}
			switch job.Status {
			case "completed":
				return job.Text, nil
			case "error":
				return "", fmt.Errorf("%w: assemblyai job %s: %s", ErrTranscriptionErr, id, job.Error)
			}
		}
	}
}

// TranscribeStreaming buffers two seconds of audio before a batch call.
func (s *AssemblyAISTT) TranscribeStreaming(chunk []float32) (string, bool, error) {
	pcm, full := s.stream.feed(chunk)
	if !full {
		return "", false, nil
	}
	text, err := s.Transcribe(context.Background(), pcm)
	return text, true, err
}
