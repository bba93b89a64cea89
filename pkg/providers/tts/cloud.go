package tts

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ttscore "github.com/lokutor-ai/lokutor-orchestrator/pkg/tts"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/wsclient"
)

const cloudNativeRate = 24000

// CloudTTS synthesizes speech via the free Edge Read Aloud endpoint: a
// DRM-token-gated websocket handshake, a speech.config + SSML request
// pair, and a binary-framed MP3 response stream decoded to PCM. It hand
// rolls WebSocket framing via pkg/wsclient instead of a full client
// library because the handshake needs vendor Origin/User-Agent headers
// and the audio frames use a bespoke length-prefixed header block that
// a generic client would make awkward to inspect.
type CloudTTS struct {
	voice   string
	rate    int
	decoder ttscore.Decoder
	cancel  atomic.Bool
}

// NewCloudTTS creates a cloud adapter for the given Edge neural voice
// name (e.g. "en-US-AriaNeural") at normal (0%) rate.
func NewCloudTTS(voice string, decoder ttscore.Decoder) *CloudTTS {
	if decoder == nil {
		decoder = ttscore.UnsupportedDecoder{}
	}
	return &CloudTTS{voice: voice, decoder: decoder}
}

// WithRate sets a percentage rate offset (0 = normal, 50 = 1.5x, -50 = 0.5x).
func (c *CloudTTS) WithRate(rate int) *CloudTTS {
	c.rate = rate
	return c
}

// AvailableVoices lists the neural voices this adapter is known to work with.
func AvailableVoices() []string {
	return []string{
		"en-US-AriaNeural",
		"en-US-GuyNeural",
		"en-US-JennyNeural",
		"en-GB-SoniaNeural",
		"en-GB-RyanNeural",
		"en-AU-NatashaNeural",
	}
}

func (c *CloudTTS) buildSSML(text string) string {
	rateStr := fmt.Sprintf("%+d%%", c.rate)
	return fmt.Sprintf(
		"<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>"+
			"<voice name='%s'><prosody rate='%s' pitch='+0Hz'>%s</prosody></voice></speak>",
		c.voice, rateStr, xmlEscape(text),
	)
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}

// Synthesize performs one full synthesis turn and returns decoded PCM.
func (c *CloudTTS) Synthesize(ctx context.Context, text string) ([]float32, error) {
	c.cancel.Store(false)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	mp3, err := c.synthesizeMP3(ctx, text)
	if err != nil {
		return nil, err
	}
	return c.decoder.Decode(mp3)
}

// SynthesizeStreaming synthesizes the full turn up front (the wire
// protocol delivers one MP3 payload terminated by turn.end; there is no
// server-side incremental PCM to stream) and hands the whole result
// back on a single-element channel so callers built against a
// streaming interface still work.
func (c *CloudTTS) SynthesizeStreaming(ctx context.Context, text string) (<-chan []float32, error) {
	pcm, err := c.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	ch := make(chan []float32, 1)
	ch <- pcm
	close(ch)
	return ch, nil
}

func (c *CloudTTS) synthesizeMP3(ctx context.Context, text string) ([]byte, error) {
	connectionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	url := ttscore.SynthesizeURL(connectionID, time.Now())

	headers := http.Header{}
	headers.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")
	headers.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36 Edg/143.0.0.0")
	headers.Set("Pragma", "no-cache")
	headers.Set("Cache-Control", "no-cache")

	conn, err := wsclient.Dial(url, headers)
	if err != nil {
		return nil, fmt.Errorf("edge tts dial: %w", err)
	}
	defer conn.Close()

	configMsg := "X-Timestamp:Thu Jan 01 1970 00:00:00 GMT+0000 (Coordinated Universal Time)\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":` +
		`{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},` +
		`"outputFormat":"audio-24khz-48kbitrate-mono-mp3"}}}}`
	if err := conn.WriteText(configMsg); err != nil {
		return nil, fmt.Errorf("edge tts send config: %w", err)
	}

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
	ssmlMsg := fmt.Sprintf(
		"X-RequestId:%s\r\n"+
			"Content-Type:application/ssml+xml\r\n"+
			"X-Timestamp:Thu Jan 01 1970 00:00:00 GMT+0000 (Coordinated Universal Time)Z\r\n"+
			"Path:ssml\r\n\r\n%s",
		requestID, c.buildSSML(text),
	)
	if err := conn.WriteText(ssmlMsg); err != nil {
		return nil, fmt.Errorf("edge tts send ssml: %w", err)
	}

	var mp3 bytes.Buffer
	for {
		if c.cancel.Load() || ctx.Err() != nil {
			break
		}
		frame, err := conn.ReadFrame()
		if err != nil {
			break
		}
		switch frame.Opcode {
		case wsclient.OpcodeText:
			if strings.Contains(string(frame.Payload), "Path:turn.end") {
				goto done
			}
		case wsclient.OpcodeBinary:
			extractAudioPayload(frame.Payload, &mp3)
		case wsclient.OpcodeClose:
			goto done
		}
	}
done:

	if mp3.Len() == 0 {
		return nil, fmt.Errorf("edge tts: no audio data received")
	}
	return mp3.Bytes(), nil
}

// extractAudioPayload strips the 2-byte-length-prefixed text header off a
// binary frame and appends the remaining bytes to dst only if the header
// declares "Path:audio".
func extractAudioPayload(data []byte, dst *bytes.Buffer) {
	if len(data) < 2 {
		return
	}
	headerLen := int(data[0])<<8 | int(data[1])
	if headerLen+2 > len(data) {
		return
	}
	header := data[2 : 2+headerLen]
	if !bytes.Contains(header, []byte("Path:audio")) {
		return
	}
	dst.Write(data[2+headerLen:])
}

// Stop cancels any in-flight synthesis.
func (c *CloudTTS) Stop() { c.cancel.Store(true) }

// Name identifies this engine.
func (c *CloudTTS) Name() string { return "cloud-edge" }

// SampleRate reports the native output rate before resampling.
func (c *CloudTTS) SampleRate() int { return cloudNativeRate }
