package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tts"
)

// PipelineSTT is the transcription adapter interface the pipeline drives: batch
// transcription plus a streaming variant that accumulates internally and
// reports "not yet" until its buffer fills.
type PipelineSTT interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
	TranscribeStreaming(chunk []float32) (text string, ready bool, err error)
	Name() string
	IsReady() bool
}

// PipelineTTS is the synthesis adapter interface the pipeline drives.
type PipelineTTS interface {
	Synthesize(ctx context.Context, text string) ([]float32, error)
	SynthesizeStreaming(ctx context.Context, text string) (<-chan []float32, error)
	Stop()
	Name() string
	SampleRate() int
}

// silenceTimeout is how long a Recording state tolerates silence before
// auto-transitioning to Processing.
const silenceTimeout = 800 * time.Millisecond

// processingTick is the cadence of the processing task's cooperative loop.
const processingTick = 40 * time.Millisecond

// Pipeline is the realtime voice state machine: mic capture -> VAD ->
// STT -> event -> TTS -> playback, with barge-in and cancellation.
type Pipeline struct {
	state atomic.Int32 // State, CAS'd for barge-in safety

	running            atomic.Bool
	ttsCancel          atomic.Bool
	forceStopRecording atomic.Bool

	mode atomic.Int32 // VoiceMode

	ring *audio.RingBuffer
	vad  VADProvider
	echo *EchoSuppressor

	sttMu  sync.Mutex
	stt    PipelineSTT
	ttsMu  sync.Mutex
	ttsEng PipelineTTS

	recordBuf   []float32
	recordBufMu sync.Mutex

	capturer *audio.Capturer
	sink     *audio.Sink

	events chan PipelineEvent

	cancel context.CancelFunc
	logger Logger
}

// NewPipeline constructs a pipeline that has not yet been started.
func NewPipeline(stt PipelineSTT, ttsEng PipelineTTS, vad VADProvider, mode VoiceMode, logger Logger) *Pipeline {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	p := &Pipeline{
		ring:   audio.NewRingBuffer(audio.TargetSampleRate * 10), // ~10s of audio
		vad:    vad,
		echo:   NewEchoSuppressor(),
		stt:    stt,
		ttsEng: ttsEng,
		events: make(chan PipelineEvent, 256),
		logger: logger,
	}
	p.mode.Store(int32(mode))
	p.state.Store(int32(mode.idleState()))
	return p
}

// Events exposes the event sink channel.
func (p *Pipeline) Events() <-chan PipelineEvent { return p.events }

func (p *Pipeline) emit(evt PipelineEventType, data interface{}) {
	select {
	case p.events <- PipelineEvent{Event: evt, Data: data}:
	default:
		p.logger.Warn("pipeline event dropped, sink full", "event", evt)
	}
}

func (p *Pipeline) getState() State    { return State(p.state.Load()) }
func (p *Pipeline) setState(s State)   { p.state.Store(int32(s)) }
func (p *Pipeline) getMode() VoiceMode { return VoiceMode(p.mode.Load()) }

func (p *Pipeline) transition(s State) {
	p.setState(s)
	p.emit(EvtStateChange, stateChangeData{State: s.String()})
}

// cancelSynthesis raises the shared cancel flag and tells the engine to
// abort any in-flight synthesis call, so a network-backed Synthesize
// unblocks instead of running to completion against a dead flag.
func (p *Pipeline) cancelSynthesis() {
	p.ttsCancel.Store(true)
	if p.ttsEng != nil {
		p.ttsEng.Stop()
	}
}

// Start acquires the capture device, wires it into the ring buffer, and
// spawns the processing task.
func (p *Pipeline) Start(ctx context.Context, deviceName string) error {
	p.emit(EvtStarting, nil)

	cap, err := audio.NewCapturer(deviceName, p.ring)
	if err != nil {
		p.emit(EvtPipelineError, errorData{Message: err.Error()})
		return err
	}
	if err := cap.Start(); err != nil {
		p.emit(EvtPipelineError, errorData{Message: err.Error()})
		return err
	}
	p.capturer = cap

	p.emitAudioDevices()

	p.running.Store(true)
	p.setState(p.getMode().idleState())

	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.processingLoop(pctx)

	p.emit(EvtReady, nil)
	return nil
}

// Stop halts capture and the processing task. Any in-flight STT call is
// allowed to complete; its result is discarded by the aborted task.
func (p *Pipeline) Stop() {
	p.emit(EvtStopping, nil)
	p.running.Store(false)
	p.cancelSynthesis()
	if p.cancel != nil {
		p.cancel()
	}
	if p.capturer != nil {
		p.capturer.Stop()
		p.capturer = nil
	}
}

// emitAudioDevices reports the backend's current capture and playback
// endpoints. Enumeration failure is not fatal; a headless host simply
// never sees the event.
func (p *Pipeline) emitAudioDevices() {
	inputs, outputs, err := audio.ListDevices()
	if err != nil {
		p.logger.Warn("audio device enumeration failed", "error", err)
		return
	}
	data := audioDevicesData{Input: []audioDevice{}, Output: []audioDevice{}}
	for _, d := range inputs {
		data.Input = append(data.Input, audioDevice{ID: d.ID, Name: d.Name})
	}
	for _, d := range outputs {
		data.Output = append(data.Output, audioDevice{ID: d.ID, Name: d.Name})
	}
	p.emit(EvtAudioDevices, data)
}

func (p *Pipeline) processingLoop(ctx context.Context) {
	ticker := time.NewTicker(processingTick)
	defer ticker.Stop()

	chunk := make([]float32, audio.ChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.running.Load() {
				return
			}
			n := p.ring.PopSlice(chunk)
			if n == 0 {
				continue
			}
			p.tick(ctx, chunk[:n])
		}
	}
}

func (p *Pipeline) tick(ctx context.Context, chunk []float32) {
	if p.echo.IsEcho(chunk) {
		// Mic is picking up our own playback (wake-word/continuous mode
		// shares a capture stream with the speaker output); drop the
		// chunk rather than let it re-trigger VAD on our own voice.
		return
	}

	switch p.getState() {
	case StateListening:
		evt, _ := p.vad.ProcessFloat32(chunk)
		if evt != nil && evt.Type == VADSpeechStart && p.getMode() == ModeWakeWord {
			p.recordBufMu.Lock()
			p.recordBuf = append(p.recordBuf[:0], chunk...)
			p.recordBufMu.Unlock()
			p.transition(StateRecording)
			p.emit(EvtRecordingStart, recordingStartData{Kind: "continuous"})
		}

	case StateRecording:
		p.recordBufMu.Lock()
		p.recordBuf = append(p.recordBuf, chunk...)
		p.recordBufMu.Unlock()

		p.vad.ProcessFloat32(chunk)

		forceStop := p.forceStopRecording.CompareAndSwap(true, false)
		if forceStop || p.vad.SilenceExceeded(silenceTimeout) {
			p.finishRecording(ctx)
		}

	case StateIdle, StateProcessing, StateSpeaking:
		// Discard: keeps the ring buffer from overflowing without
		// being processed.
	}
}

func (p *Pipeline) finishRecording(ctx context.Context) {
	p.emit(EvtRecordingStop, nil)
	p.setState(StateProcessing)

	p.recordBufMu.Lock()
	p.recordBuf = append(p.recordBuf, p.ring.DrainAll()...)
	pcm := make([]float32, len(p.recordBuf))
	copy(pcm, p.recordBuf)
	p.recordBuf = p.recordBuf[:0]
	p.recordBufMu.Unlock()

	text, err := p.stt.Transcribe(ctx, pcm)
	if err != nil {
		p.emit(EvtPipelineError, errorData{Message: err.Error()})
	} else if text != "" {
		p.emit(EvtTranscription, transcriptionData{Text: text})
	}

	p.vad.Reset()
	p.transition(p.getMode().idleState())
}

// StartRecording manually begins a recording cycle. From Speaking it
// raises the TTS cancel flag first, treating this as a barge-in.
func (p *Pipeline) StartRecording() error {
	if !p.running.Load() {
		return ErrPipelineNotRunning
	}
	switch p.getState() {
	case StateIdle, StateListening:
		p.recordBufMu.Lock()
		p.recordBuf = p.recordBuf[:0]
		p.recordBufMu.Unlock()
		p.transition(StateRecording)
		p.emit(EvtRecordingStart, recordingStartData{Kind: "manual"})
	case StateSpeaking:
		p.cancelSynthesis()
		p.echo.ClearEchoBuffer()
		p.recordBufMu.Lock()
		p.recordBuf = p.recordBuf[:0]
		p.recordBufMu.Unlock()
		p.transition(StateRecording)
		p.emit(EvtRecordingStart, recordingStartData{Kind: "barge-in"})
	}
	return nil
}

// StopRecording requests the next processing tick end the recording cycle
// immediately rather than waiting for silence.
func (p *Pipeline) StopRecording() error {
	if !p.running.Load() {
		return ErrPipelineNotRunning
	}
	if p.getState() == StateRecording {
		p.forceStopRecording.Store(true)
	}
	return nil
}

// SetMode updates the voice mode. It only interrupts Idle<->Listening
// transitions consistent with the new mode; it never interrupts
// Recording/Processing/Speaking.
func (p *Pipeline) SetMode(mode VoiceMode) {
	p.mode.Store(int32(mode))
	switch p.getState() {
	case StateListening:
		if mode == ModePushToTalk || mode == ModeToggle {
			p.transition(StateIdle)
		}
	case StateIdle:
		if mode == ModeWakeWord {
			p.transition(StateListening)
		}
	}
}

// Speak synthesizes and plays text. It serializes against an already-in-progress Speaking call, phrase-splits
// long text for streaming synthesis, and always restores state via
// compare-and-swap so a late-arriving barge-in is never overwritten.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	if !p.running.Load() {
		return ErrPipelineNotRunning
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	if p.getState() == StateSpeaking {
		p.cancelSynthesis()
		deadline := time.Now().Add(time.Second)
		free := false
		for time.Now().Before(deadline) {
			if p.ttsMu.TryLock() {
				p.ttsMu.Unlock()
				free = true
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if !free {
			return ErrTTSBusy
		}
	}

	p.ttsCancel.Store(false)
	p.transition(StateSpeaking)
	p.emit(EvtSpeakingStart, speakingStartData{Text: text})

	phrases := tts.SplitPhrases(text)

	var err error
	p.ttsMu.Lock()
	if len(phrases) <= 1 {
		err = p.speakOneshot(ctx, text)
	} else {
		err = p.speakStreaming(ctx, phrases)
	}
	p.ttsMu.Unlock()

	p.echo.ClearEchoBuffer()
	p.emit(EvtSpeakingEnd, nil)
	if p.state.CompareAndSwap(int32(StateSpeaking), int32(p.getMode().idleState())) {
		p.emit(EvtStateChange, stateChangeData{State: p.getMode().idleState().String()})
	}
	return err
}

func (p *Pipeline) speakOneshot(ctx context.Context, text string) error {
	pcm, err := p.ttsEng.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if p.ttsCancel.Load() {
		return nil
	}
	p.echo.RecordPlayedAudio(pcm)
	if p.sink == nil {
		return nil
	}
	return p.sink.Oneshot(pcm)
}

func (p *Pipeline) speakStreaming(ctx context.Context, phrases []string) error {
	playCh := make(chan []float32, 4)
	playErr := make(chan error, 1)

	go func() {
		if p.sink == nil {
			for range playCh {
			}
			playErr <- nil
			return
		}
		playErr <- p.sink.Streamed(ctx, playCh)
	}()

	var synthErr error
	for _, phrase := range phrases {
		if p.ttsCancel.Load() {
			break
		}
		pcm, err := p.ttsEng.Synthesize(ctx, phrase)
		if err != nil {
			synthErr = err
			break
		}
		p.echo.RecordPlayedAudio(pcm)
		if p.ttsCancel.Load() {
			break
		}
		select {
		case playCh <- pcm:
		case <-ctx.Done():
			synthErr = ctx.Err()
		}
		if synthErr != nil {
			break
		}
	}
	close(playCh)
	<-playErr
	return synthErr
}

// AttachSink wires a playback sink for Speak to use. Pipelines used purely
// for text-in/text-out flows may omit this.
func (p *Pipeline) AttachSink(s *audio.Sink) { p.sink = s }

// TTSCancelFlag exposes the shared cancellation flag so a Sink can poll it
// directly.
func (p *Pipeline) TTSCancelFlag() *atomic.Bool { return &p.ttsCancel }
