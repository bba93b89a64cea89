package orchestrator

import "time"

// EnergyVAD is an energy-based speech/silence classifier: mean absolute
// amplitude against a threshold, with an exponentially-smoothed running
// average energy (alpha=0.01) kept for callers that want to inspect it.
// Unlike the debounced hysteresis VAD this replaces, there is no
// consecutive-frame confirmation: every frame above threshold is speech,
// so the silence duration stays monotonic between silent frames.
type EnergyVAD struct {
	threshold    float64
	silenceStart time.Time
	hasSilence   bool
	wasSpeaking  bool
	avgEnergy    float64
}

// NewEnergyVAD creates a VAD with the given amplitude threshold
// (typically 0.01).
func NewEnergyVAD(threshold float64) *EnergyVAD {
	return &EnergyVAD{threshold: threshold}
}

// Threshold returns the configured silence threshold.
func (v *EnergyVAD) Threshold() float64 { return v.threshold }

// SetThreshold updates the silence threshold.
func (v *EnergyVAD) SetThreshold(t float64) { v.threshold = t }

// AverageEnergy returns the exponentially-smoothed average energy.
func (v *EnergyVAD) AverageEnergy() float64 { return v.avgEnergy }

// IsSpeaking reports the last frame's speech classification.
func (v *EnergyVAD) IsSpeaking() bool { return v.wasSpeaking }

// ProcessFloat32 is the primary entry point: compute mean absolute
// amplitude over one PCM chunk, classify speech/silence, and maintain the
// silence-start timestamp. On speech it clears the silence timestamp; on
// silence it sets the timestamp only if not already set, so silence
// duration accumulates across consecutive silent frames rather than
// resetting each tick.
func (v *EnergyVAD) ProcessFloat32(chunk []float32) (*VADEvent, error) {
	energy := meanAbsAmplitude(chunk)
	v.avgEnergy = v.avgEnergy*0.99 + energy*0.01

	now := time.Now()
	speaking := energy > v.threshold

	if speaking {
		v.hasSilence = false
		v.silenceStart = time.Time{}
		var evt *VADEvent
		if !v.wasSpeaking {
			evt = &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}
		}
		v.wasSpeaking = true
		return evt, nil
	}

	if !v.hasSilence {
		v.silenceStart = now
		v.hasSilence = true
	}
	var evt *VADEvent
	if v.wasSpeaking {
		evt = &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}
	} else {
		evt = &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}
	}
	v.wasSpeaking = false
	return evt, nil
}

// SilenceExceeded reports whether the current silence period has lasted at
// least timeout. False while speech is ongoing (no silence start set).
func (v *EnergyVAD) SilenceExceeded(timeout time.Duration) bool {
	if !v.hasSilence {
		return false
	}
	return time.Since(v.silenceStart) >= timeout
}

// Process implements VADProvider over byte-encoded little-endian 16-bit
// PCM, for callers that still hand in raw device bytes rather than
// normalized float32 chunks.
func (v *EnergyVAD) Process(chunk []byte) (*VADEvent, error) {
	return v.ProcessFloat32(bytesToFloat32PCM16(chunk))
}

func (v *EnergyVAD) Name() string { return "energy_vad" }

func (v *EnergyVAD) Reset() {
	v.hasSilence = false
	v.wasSpeaking = false
	v.silenceStart = time.Time{}
	v.avgEnergy = 0
}

func (v *EnergyVAD) Clone() VADProvider {
	return &EnergyVAD{threshold: v.threshold}
}

func meanAbsAmplitude(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, s := range chunk {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(len(chunk))
}

func bytesToFloat32PCM16(chunk []byte) []float32 {
	n := len(chunk) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(chunk[i*2]) | int16(chunk[i*2+1])<<8
		out[i] = float32(sample) / 32768.0
	}
	return out
}
