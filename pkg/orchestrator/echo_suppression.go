package orchestrator

import (
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// EchoSuppressor classifies mic chunks that are really our own playback
// leaking back in. The pipeline records every synthesized chunk before it
// reaches the speaker; incoming mic chunks are then correlated against that
// rolling reference while playback is recent. Everything runs on normalized
// mono float32 at the pipeline rate.
type EchoSuppressor struct {
	mu         sync.Mutex
	played     []float32 // rolling reference of recently played samples
	maxSamples int
	threshold  float64
	holdoff    time.Duration // how long after playback echo is still possible
	lastPlayed time.Time
	enabled    bool
}

// echoEnvelopeDecimation downsamples signals before the envelope
// correlation fallback; sibilants survive room phase shifts in the
// envelope even when the raw correlation misses them.
const echoEnvelopeDecimation = 8

// NewEchoSuppressor returns a suppressor sized for ~2 seconds of reference
// audio at the pipeline rate.
func NewEchoSuppressor() *EchoSuppressor {
	return &EchoSuppressor{
		maxSamples: audio.TargetSampleRate * 2,
		threshold:  0.55,
		holdoff:    1200 * time.Millisecond,
		enabled:    true,
	}
}

// RecordPlayedAudio appends samples that were just handed to the speaker,
// trimming the reference to the configured window.
func (es *EchoSuppressor) RecordPlayedAudio(pcm []float32) {
	if len(pcm) == 0 {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.enabled {
		return
	}
	es.played = append(es.played, pcm...)
	es.lastPlayed = time.Now()
	if len(es.played) > es.maxSamples {
		es.played = es.played[len(es.played)-es.maxSamples:]
	}
}

// IsEcho reports whether chunk is dominated by our own recent playback.
// Returns false once the holdoff window since the last played sample has
// passed, so stale reference audio can never mute live speech.
func (es *EchoSuppressor) IsEcho(chunk []float32) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.enabled || len(chunk) == 0 || len(es.played) == 0 {
		return false
	}
	if time.Since(es.lastPlayed) > es.holdoff {
		return false
	}

	if tailCorrelation(chunk, es.played) > es.threshold {
		return true
	}
	// Envelope fallback runs slightly hot, so it gets a stricter cutoff.
	return slidingEnvelopeCorrelation(chunk, es.played, echoEnvelopeDecimation) > es.threshold+0.05
}

// ClearEchoBuffer drops the reference audio. Call on barge-in or when
// playback is cancelled so the next mic chunks are judged fresh.
func (es *EchoSuppressor) ClearEchoBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.played = es.played[:0]
}

// SetThreshold adjusts detection sensitivity; values outside [0,1] are ignored.
func (es *EchoSuppressor) SetThreshold(t float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if t >= 0 && t <= 1 {
		es.threshold = t
	}
}

// SetEnabled toggles suppression entirely.
func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

// tailCorrelation computes normalized cross-correlation between input and
// the tail of reference, aligning to the most recently played samples to
// account for speaker-to-mic latency.
func tailCorrelation(input, reference []float32) float64 {
	n := len(input)
	if n > len(reference) {
		n = len(reference)
	}
	if n == 0 {
		return 0
	}
	ref := reference[len(reference)-n:]
	in := input[:n]

	var dot, inEnergy, refEnergy float64
	for i := 0; i < n; i++ {
		a, b := float64(in[i]), float64(ref[i])
		dot += a * b
		inEnergy += a * a
		refEnergy += b * b
	}
	if inEnergy == 0 || refEnergy == 0 {
		return 0
	}
	corr := dot / math.Sqrt(inEnergy*refEnergy)
	if corr < 0 {
		return 0
	}
	if corr > 1 {
		return 1
	}
	return corr
}

// slidingEnvelopeCorrelation correlates the decimated absolute-amplitude
// envelope of input against reference at a coarse stride, returning the
// best Pearson correlation found.
func slidingEnvelopeCorrelation(input, reference []float32, decimation int) float64 {
	inEnv := envelope(input, decimation)
	refEnv := envelope(reference, decimation)

	n := len(inEnv)
	if n > len(refEnv) {
		n = len(refEnv)
	}
	if n == 0 {
		return 0
	}
	inEnv = inEnv[:n]

	var inMean float64
	for _, v := range inEnv {
		inMean += v
	}
	inMean /= float64(n)
	var inVar float64
	for i := range inEnv {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := n / 4
	if stride < 2 {
		stride = 2
	}

	best := 0.0
	for pos := 0; pos+n <= len(refEnv); pos += stride {
		var refMean float64
		for i := 0; i < n; i++ {
			refMean += refEnv[pos+i]
		}
		refMean /= float64(n)

		var dot, refVar float64
		for i := 0; i < n; i++ {
			r := refEnv[pos+i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > best {
				best = corr
			}
		}
	}
	return best
}

func envelope(samples []float32, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		var sum float64
		for j := 0; j < decimation; j++ {
			sum += math.Abs(float64(samples[i*decimation+j]))
		}
		env[i] = sum
	}
	return env
}
