package tts

import (
	"context"
	"errors"
	"testing"

	ttscore "github.com/lokutor-ai/lokutor-orchestrator/pkg/tts"
)

type fakePhonemizer struct {
	out string
	err error
}

func (f fakePhonemizer) Phonemize(text, lang string) (string, error) { return f.out, f.err }

func TestPreparedChunksTokenizesAndChunks(t *testing.T) {
	lt := &LocalTTS{phonemizer: fakePhonemizer{out: "hɛloʊ wɜrld"}, lang: "en"}
	chunks, err := lt.PreparedChunks("hello world")
	if err != nil {
		t.Fatalf("PreparedChunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 for short input", len(chunks))
	}
	if len(chunks[0]) == 0 {
		t.Fatalf("expected non-empty token chunk")
	}
}

func TestPreparedChunksPropagatesPhonemizeError(t *testing.T) {
	lt := &LocalTTS{phonemizer: fakePhonemizer{err: errors.New("espeak-ng not found")}, lang: "en"}
	_, err := lt.PreparedChunks("hello")
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestPreparedChunksEmptyTokensIsError(t *testing.T) {
	lt := &LocalTTS{phonemizer: fakePhonemizer{out: "\x00\x00"}, lang: "en"}
	_, err := lt.PreparedChunks("...")
	if err == nil {
		t.Fatalf("expected error when no tokens survive vocab filtering")
	}
}

func TestSynthesizeEmptyTextReturnsNilLocal(t *testing.T) {
	lt := &LocalTTS{phonemizer: fakePhonemizer{}}
	pcm, err := lt.Synthesize(context.Background(), "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pcm != nil {
		t.Fatalf("expected nil pcm for blank input")
	}
}

var _ ttscore.Phonemizer = fakePhonemizer{}
