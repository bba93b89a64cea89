package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// transcriptionResult is the minimal response shape the OpenAI-compatible
// transcription endpoints share.
type transcriptionResult struct {
	Text string `json:"text"`
}

// postWAVForm uploads one utterance as a multipart WAV to an
// OpenAI-compatible transcription endpoint and returns the recognized
// text. Transport and protocol failures all come back wrapped in
// ErrTranscriptionErr so pipeline callers see a single error kind no
// matter which hosted engine produced the failure.
func postWAVForm(ctx context.Context, endpoint, bearer string, fields map[string]string, wav []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return "", fmt.Errorf("%w: encode field %s: %v", ErrTranscriptionErr, key, err)
		}
	}
	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("%w: create file part: %v", ErrTranscriptionErr, err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("%w: write wav payload: %v", ErrTranscriptionErr, err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("%w: finalize form: %v", ErrTranscriptionErr, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrTranscriptionErr, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionErr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: HTTP %d from %s: %s", ErrTranscriptionErr, resp.StatusCode, endpoint, bytes.TrimSpace(detail))
	}

	var result transcriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTranscriptionErr, err)
	}
	return result.Text, nil
}
