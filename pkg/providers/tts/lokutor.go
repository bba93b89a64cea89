package tts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	ttscore "github.com/lokutor-ai/lokutor-orchestrator/pkg/tts"
)

const lokutorNativeRate = 24000

// LokutorTTS is the first-party hosted adapter. Unlike the Edge endpoint
// it speaks a plain trusted websocket protocol (binary PCM16 chunks,
// "EOS"/"ERR:" text frames), so it uses a full client library rather than
// the hand-rolled framing the cloud adapter needs.
type LokutorTTS struct {
	apiKey string
	host   string
	scheme string
	voice  orchestrator.Voice
	lang   orchestrator.Language

	mu   sync.Mutex
	conn *websocket.Conn

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewLokutorTTS creates an adapter against the production host with the
// given voice and language.
func NewLokutorTTS(apiKey string, voice orchestrator.Voice, lang orchestrator.Language) *LokutorTTS {
	if voice == "" {
		voice = orchestrator.VoiceF1
	}
	if lang == "" {
		lang = orchestrator.LanguageEn
	}
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
		voice:  voice,
		lang:   lang,
	}
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}
	conn.SetReadLimit(10 << 20)

	t.conn = conn
	return conn, nil
}

// Synthesize runs one utterance through the hosted endpoint and returns
// the decoded mono float32 PCM at the native rate.
func (t *LokutorTTS) Synthesize(ctx context.Context, text string) ([]float32, error) {
	var pcm []float32
	err := t.stream(ctx, text, func(chunk []byte) error {
		pcm = append(pcm, audio.PCM16LEToFloat32(chunk)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pcm, nil
}

// SynthesizeStreaming phrase-splits text and synthesizes each phrase into
// a bounded channel so playback can start before the full utterance is
// rendered.
func (t *LokutorTTS) SynthesizeStreaming(ctx context.Context, text string) (<-chan []float32, error) {
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

// synthesisRequest is the one message this adapter sends per utterance.
// Speed and steps are fixed to the values the hosted voices are tuned
// for; version pins the model family so server upgrades cannot change
// the output format under a running pipeline.
type synthesisRequest struct {
	Text    string  `json:"text"`
	Voice   string  `json:"voice"`
	Lang    string  `json:"lang"`
	Speed   float64 `json:"speed"`
	Steps   int     `json:"steps"`
	Version string  `json:"version"`
}

// Control trailers the endpoint sends as text frames between the binary
// PCM chunks.
const (
	lokutorEndOfStream = "EOS"
	lokutorErrPrefix   = "ERR:"
)

// dropConn abandons the pooled connection after a transport fault so the
// next synthesis call dials fresh instead of reusing a broken socket.
func (t *LokutorTTS) dropConn(conn *websocket.Conn, reason string) {
	t.conn = nil
	conn.Close(websocket.StatusAbnormalClosure, reason)
}

// stream sends one synthesis request and forwards binary chunks to
// onChunk until the endpoint signals end of stream.
func (t *LokutorTTS) stream(ctx context.Context, text string, onChunk func([]byte) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancelMu.Lock()
	t.cancel = cancel
	t.cancelMu.Unlock()
	defer cancel()

	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	req := synthesisRequest{
		Text:    text,
		Voice:   string(t.voice),
		Lang:    string(t.lang),
		Speed:   1.05,
		Steps:   5,
		Version: "versa-1.0",
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.dropConn(conn, "request write failed")
		return fmt.Errorf("lokutor synthesis request: %w", err)
	}

	for {
		kind, payload, err := conn.Read(ctx)
		if err != nil {
			t.dropConn(conn, "stream read failed")
			return fmt.Errorf("lokutor stream read: %w", err)
		}
		if kind == websocket.MessageBinary {
			if err := onChunk(payload); err != nil {
				return err
			}
			continue
		}

		switch trailer := string(payload); {
		case trailer == lokutorEndOfStream:
			return nil
		case strings.HasPrefix(trailer, lokutorErrPrefix):
			detail := strings.TrimSpace(strings.TrimPrefix(trailer, lokutorErrPrefix))
			return fmt.Errorf("lokutor synthesis rejected: %s", detail)
		default:
			// Unknown control trailers are ignored so the endpoint can
			// add new ones without breaking deployed clients.
		}
	}
}

// Stop aborts any in-flight synthesis read.
func (t *LokutorTTS) Stop() {
	t.cancelMu.Lock()
	cancel := t.cancel
	t.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *LokutorTTS) Name() string { return "lokutor" }

func (t *LokutorTTS) SampleRate() int { return lokutorNativeRate }

// Close tears down the pooled connection.
func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
