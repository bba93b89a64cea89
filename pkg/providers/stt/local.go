package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Error kinds for the local inference engine.
var (
	ErrModelNotFound    = errors.New("stt: model file not found")
	ErrModelLoadError   = errors.New("stt: model failed to load")
	ErrTranscriptionErr = errors.New("stt: transcription inference failed")
	ErrInvalidAudio     = errors.New("stt: audio shorter than 100ms")
	ErrNotReady         = errors.New("stt: engine not initialized")
)

const (
	sampleRate           = 16000
	minAudioDuration     = 100 * time.Millisecond
	emptyResultThreshold = 400 * time.Millisecond
	streamingBufferSecs  = 2
)

// LocalEngine wraps a whisper.cpp model loaded once and shared across
// calls; each Transcribe call opens a fresh inference context (contexts
// are not safe for concurrent use, the model is).
type LocalEngine struct {
	mu    sync.Mutex
	model whisperlib.Model
	ready bool

	streamBuf []float32
}

// NewLocalEngine loads the whisper.cpp model at modelPath, downloading it
// first via EnsureModelFile if missing.
func NewLocalEngine(modelPath, modelURL string, logger orchestrator.Logger) (*LocalEngine, error) {
	if err := EnsureModelFile(modelPath, modelURL, logger); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotFound, err)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}
	return &LocalEngine{model: model, ready: true}, nil
}

// IsReady reports whether the model has been loaded successfully.
func (e *LocalEngine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Transcribe runs one batch inference pass over mono 16kHz float32 PCM.
// English-only, greedy decoding, single segment, no timestamps, and
// non-speech suppression are the fixed operating parameters; audio
// shorter than 0.4s returns empty text without invoking inference.
func (e *LocalEngine) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	duration := time.Duration(float64(len(pcm)) / float64(sampleRate) * float64(time.Second))
	if duration < minAudioDuration {
		return "", ErrInvalidAudio
	}
	if !e.ready || e.model == nil {
		return "", ErrNotReady
	}
	if duration < emptyResultThreshold {
		return "", nil
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: create context: %v", ErrTranscriptionErr, err)
	}
	if err := wctx.SetLanguage("en"); err != nil {
		return "", fmt.Errorf("%w: set language: %v", ErrTranscriptionErr, err)
	}
	wctx.SetTranslate(false)

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionErr, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: read segment: %v", ErrTranscriptionErr, err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// TranscribeStreaming accumulates PCM into a rolling 2-second buffer and
// only invokes the batch path once the buffer is full, returning
// ready=false until then.
func (e *LocalEngine) TranscribeStreaming(chunk []float32) (text string, ready bool, err error) {
	e.mu.Lock()
	e.streamBuf = append(e.streamBuf, chunk...)
	full := len(e.streamBuf) >= sampleRate*streamingBufferSecs
	var pcm []float32
	if full {
		pcm = e.streamBuf
		e.streamBuf = nil
	}
	e.mu.Unlock()

	if !full {
		return "", false, nil
	}
	text, err = e.Transcribe(context.Background(), pcm)
	return text, true, err
}

// Name identifies this engine.
func (e *LocalEngine) Name() string { return "local-whisper" }

// Close releases the underlying model.
func (e *LocalEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}
