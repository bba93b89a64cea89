package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []float32) (string, error) { return f.text, f.err }
func (f *fakeSTT) TranscribeStreaming(chunk []float32) (string, bool, error)     { return "", false, nil }
func (f *fakeSTT) Name() string                                                 { return "fake-stt" }
func (f *fakeSTT) IsReady() bool                                                { return true }

type fakeTTS struct {
	samples []float32
	err     error
	stops   atomic.Int32
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]float32, error) {
	return f.samples, f.err
}
func (f *fakeTTS) SynthesizeStreaming(ctx context.Context, text string) (<-chan []float32, error) {
	ch := make(chan []float32, 1)
	ch <- f.samples
	close(ch)
	return ch, f.err
}
func (f *fakeTTS) Stop()           { f.stops.Add(1) }
func (f *fakeTTS) Name() string    { return "fake-tts" }
func (f *fakeTTS) SampleRate() int { return 16000 }

// blockingTTS parks Synthesize until Stop is called, standing in for a
// network-backed engine with an in-flight request.
type blockingTTS struct {
	once sync.Once
	done chan struct{}
}

func newBlockingTTS() *blockingTTS {
	return &blockingTTS{done: make(chan struct{})}
}

func (b *blockingTTS) Synthesize(ctx context.Context, text string) ([]float32, error) {
	<-b.done
	return nil, errors.New("synthesis aborted")
}
func (b *blockingTTS) SynthesizeStreaming(ctx context.Context, text string) (<-chan []float32, error) {
	ch := make(chan []float32)
	close(ch)
	return ch, nil
}
func (b *blockingTTS) Stop()           { b.once.Do(func() { close(b.done) }) }
func (b *blockingTTS) Name() string    { return "blocking-tts" }
func (b *blockingTTS) SampleRate() int { return 16000 }

func (b *blockingTTS) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func newTestPipeline(mode VoiceMode) (*Pipeline, *fakeSTT, *fakeTTS) {
	stt := &fakeSTT{text: "hello"}
	ttsEng := &fakeTTS{samples: []float32{0.1, 0.2, 0.3}}
	p := NewPipeline(stt, ttsEng, NewEnergyVAD(0.01), mode, nil)
	// Tests drive the state machine directly without acquiring a real
	// capture device, so flip the running flag Start would have set.
	p.running.Store(true)
	return p, stt, ttsEng
}

func loudChunk(n int) []float32 {
	c := make([]float32, n)
	for i := range c {
		c[i] = 0.5
	}
	return c
}

func silentChunk(n int) []float32 {
	return make([]float32, n)
}

func TestPipelineWakeWordAutoRecordsOnSpeech(t *testing.T) {
	p, _, _ := newTestPipeline(ModeWakeWord)
	p.setState(StateListening)

	p.tick(context.Background(), loudChunk(audio.ChunkSize))

	if p.getState() != StateRecording {
		t.Fatalf("state = %v, want Recording", p.getState())
	}
}

func TestPipelineRecordingFinishesOnSilence(t *testing.T) {
	p, stt, _ := newTestPipeline(ModePushToTalk)
	stt.text = "transcribed text"
	p.setState(StateRecording)

	p.vad.ProcessFloat32(silentChunk(audio.ChunkSize))
	// Force the silence clock into the past so SilenceExceeded trips
	// without a real sleep.
	p.vad.(*EnergyVAD).silenceStart = time.Now().Add(-time.Second)

	p.tick(context.Background(), silentChunk(audio.ChunkSize))

	if p.getState() != StateIdle {
		t.Fatalf("state = %v, want Idle after finishRecording", p.getState())
	}

	select {
	case evt := <-p.Events():
		if evt.Event != EvtRecordingStop {
			t.Fatalf("first event = %v, want RecordingStop", evt.Event)
		}
	default:
		t.Fatalf("expected a RecordingStop event")
	}
}

func TestPipelineStopRecordingForcesImmediateFinish(t *testing.T) {
	p, _, _ := newTestPipeline(ModePushToTalk)
	p.transition(StateRecording)
	p.StopRecording()

	p.tick(context.Background(), loudChunk(audio.ChunkSize))

	if p.getState() != StateIdle {
		t.Fatalf("state = %v, want Idle after forced stop", p.getState())
	}
}

func TestPipelineStartRecordingFromSpeakingIsBargeIn(t *testing.T) {
	p, _, ttsEng := newTestPipeline(ModePushToTalk)
	p.transition(StateSpeaking)

	p.StartRecording()

	if p.getState() != StateRecording {
		t.Fatalf("state = %v, want Recording", p.getState())
	}
	if !p.ttsCancel.Load() {
		t.Fatalf("expected ttsCancel to be set on barge-in")
	}
	if ttsEng.stops.Load() == 0 {
		t.Fatalf("expected barge-in to call Stop on the TTS engine")
	}
}

func TestPipelineBargeInUnblocksInFlightSpeak(t *testing.T) {
	ttsEng := newBlockingTTS()
	p := NewPipeline(&fakeSTT{}, ttsEng, NewEnergyVAD(0.01), ModePushToTalk, nil)
	p.running.Store(true)

	speakDone := make(chan error, 1)
	go func() {
		speakDone <- p.Speak(context.Background(), "a phrase stuck in synthesis")
	}()

	deadline := time.Now().Add(time.Second)
	for p.getState() != StateSpeaking {
		if time.Now().After(deadline) {
			t.Fatalf("pipeline never entered Speaking")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.StartRecording()

	select {
	case <-speakDone:
	case <-time.After(time.Second):
		t.Fatalf("Speak did not return after barge-in cancelled synthesis")
	}
	if !ttsEng.stopped() {
		t.Fatalf("expected Stop to have been propagated to the engine")
	}
	if p.getState() != StateRecording {
		t.Fatalf("state = %v, want Recording to survive Speak's final transition", p.getState())
	}
}

func TestPipelineSpeakReturnsToIdleStateForMode(t *testing.T) {
	p, _, _ := newTestPipeline(ModeWakeWord)
	p.setState(StateListening)

	if err := p.Speak(context.Background(), "a short phrase"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if p.getState() != StateListening {
		t.Fatalf("state = %v, want Listening (wake-word idle state)", p.getState())
	}
}

func TestPipelineSpeakPropagatesSynthesisError(t *testing.T) {
	p, _, ttsEng := newTestPipeline(ModePushToTalk)
	ttsEng.err = errors.New("synth failed")

	if err := p.Speak(context.Background(), "text"); err == nil {
		t.Fatalf("expected Speak to propagate synthesis error")
	}
}

func TestPipelineDiscardsEchoChunks(t *testing.T) {
	p, _, _ := newTestPipeline(ModeWakeWord)
	p.setState(StateListening)

	played := loudChunk(audio.ChunkSize)
	p.echo.RecordPlayedAudio(played)

	p.tick(context.Background(), played)

	if p.getState() != StateListening {
		t.Fatalf("state = %v, want Listening (echo chunk should not trigger recording)", p.getState())
	}
}

func TestPipelineSetModeIdleToListeningOnWakeWord(t *testing.T) {
	p, _, _ := newTestPipeline(ModePushToTalk)
	p.setState(StateIdle)

	p.SetMode(ModeWakeWord)

	if p.getState() != StateListening {
		t.Fatalf("state = %v, want Listening after switching to wake-word mode", p.getState())
	}
}

func TestPipelineOperationsRejectedBeforeStart(t *testing.T) {
	stt := &fakeSTT{}
	ttsEng := &fakeTTS{}
	p := NewPipeline(stt, ttsEng, NewEnergyVAD(0.01), ModePushToTalk, nil)

	if err := p.Speak(context.Background(), "hello"); !errors.Is(err, ErrPipelineNotRunning) {
		t.Fatalf("Speak = %v, want ErrPipelineNotRunning", err)
	}
	if err := p.StartRecording(); !errors.Is(err, ErrPipelineNotRunning) {
		t.Fatalf("StartRecording = %v, want ErrPipelineNotRunning", err)
	}
	if err := p.StopRecording(); !errors.Is(err, ErrPipelineNotRunning) {
		t.Fatalf("StopRecording = %v, want ErrPipelineNotRunning", err)
	}
}

func TestPipelineSpeakRejectsEmptyText(t *testing.T) {
	p, _, _ := newTestPipeline(ModePushToTalk)
	if err := p.Speak(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("Speak = %v, want ErrEmptyText", err)
	}
}

func TestPipelineSetModeNeverInterruptsRecording(t *testing.T) {
	p, _, _ := newTestPipeline(ModeWakeWord)
	p.transition(StateRecording)

	p.SetMode(ModePushToTalk)

	if p.getState() != StateRecording {
		t.Fatalf("state = %v, want Recording to survive a mode switch", p.getState())
	}
}
