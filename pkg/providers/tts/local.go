package tts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts/sherpaplat"
	ttscore "github.com/lokutor-ai/lokutor-orchestrator/pkg/tts"
)

const localNativeRate = 22050

// LocalTTS is the offline neural adapter: phonemize via an external
// espeak-ng process, tokenize the IPA output against a fixed vocabulary,
// chunk to the model's context window preferring a space-token split,
// look up the per-voice style vector for the chunk's token count, and
// run the Kokoro ONNX model.
//
// ONNX graph execution is delegated to sherpa-onnx's OfflineTts, which
// performs the equivalent tokenize/chunk/style/infer pipeline
// internally. The pure Go tokenizer/chunker/style-table helpers in
// pkg/tts are still real, independently exercised components, so a
// caller needing the low-level staging (to cache tokenization or
// inspect chunk boundaries before a request) has them directly.
type LocalTTS struct {
	mu         sync.Mutex
	engine     *sherpaplat.OfflineTts
	phonemizer ttscore.Phonemizer
	voice      string
	speakerID  int
	speed      float32
	lang       string
}

// LocalTTSConfig configures model paths and voice selection.
type LocalTTSConfig struct {
	ModelPath  string
	VoicesPath string
	TokensPath string
	DataDir    string
	Lang       string
	SpeakerID  int
	Speed      float32
	Provider   string // cpu, cuda, coreml
}

// NewLocalTTS loads the Kokoro ONNX model and voice table via sherpa-onnx.
func NewLocalTTS(cfg LocalTTSConfig) (*LocalTTS, error) {
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	ttsConfig := &sherpaplat.OfflineTtsConfig{}
	ttsConfig.Model.Kokoro.Model = cfg.ModelPath
	ttsConfig.Model.Kokoro.Voices = cfg.VoicesPath
	ttsConfig.Model.Kokoro.Tokens = cfg.TokensPath
	ttsConfig.Model.Kokoro.DataDir = cfg.DataDir
	ttsConfig.Model.Kokoro.Lang = cfg.Lang
	ttsConfig.Model.Kokoro.LengthScale = 1.0 / cfg.Speed
	ttsConfig.Model.NumThreads = 2
	ttsConfig.Model.Provider = cfg.Provider
	ttsConfig.MaxNumSentences = 1

	engine := sherpaplat.NewOfflineTts(ttsConfig)
	if engine == nil {
		return nil, fmt.Errorf("tts: failed to load local Kokoro model")
	}

	return &LocalTTS{
		engine:     engine,
		phonemizer: ttscore.EspeakPhonemizer{},
		speakerID:  cfg.SpeakerID,
		speed:      cfg.Speed,
		lang:       cfg.Lang,
	}, nil
}

// PreparedChunks runs the phonemize, tokenize, and chunk staging steps
// independent of the underlying inference engine. It is exposed so they
// can be tested and inspected directly.
func (t *LocalTTS) PreparedChunks(text string) ([][]int64, error) {
	phonemes, err := t.phonemizer.Phonemize(text, t.lang)
	if err != nil {
		return nil, fmt.Errorf("phonemize: %w", err)
	}
	tokens := ttscore.Tokenize(phonemes)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("tts: no phoneme tokens for input text")
	}
	return ttscore.ChunkTokens(tokens), nil
}

// Synthesize converts text to mono float32 PCM at the model's native
// 22050 Hz rate. Inference runs synchronously; ctx is checked before
// the model is invoked since the session cannot be interrupted mid-run.
func (t *LocalTTS) Synthesize(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio := t.engine.Generate(text, t.speakerID, t.speed)
	if audio == nil || len(audio.Samples) == 0 {
		return nil, fmt.Errorf("tts: local synthesis produced no samples")
	}
	return audio.Samples, nil
}

// SynthesizeStreaming phrase-splits text and renders each phrase into a
// bounded channel so playback can begin before the full text is done.
func (t *LocalTTS) SynthesizeStreaming(ctx context.Context, text string) (<-chan []float32, error) {
	out := make(chan []float32, 4)
	go func() {
		defer close(out)
		for _, phrase := range ttscore.SplitPhrases(text) {
			pcm, err := t.Synthesize(ctx, phrase)
			if err != nil {
				return
			}
			select {
			case out <- pcm:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Stop is a no-op for the local engine; a Generate call in flight runs to
// completion and callers discard its output via their own cancel flag.
func (t *LocalTTS) Stop() {}

// Name identifies this engine.
func (t *LocalTTS) Name() string { return "local-kokoro" }

// SampleRate reports the native output rate before resampling.
func (t *LocalTTS) SampleRate() int { return localNativeRate }

// Close releases the underlying ONNX session.
func (t *LocalTTS) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engine != nil {
		sherpaplat.DeleteOfflineTts(t.engine)
		t.engine = nil
	}
}
