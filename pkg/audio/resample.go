package audio

// ChunkSize is the fixed PCM chunk unit (80 ms at 16 kHz) the rest of the
// pipeline operates on.
const ChunkSize = 1280

// TargetSampleRate is the rate every capture chain normalizes down to.
const TargetSampleRate = 16000

// Resampler converts interleaved multi-channel capture frames at an
// arbitrary native rate into mono 16 kHz float32 samples, accumulating a
// partial chunk across calls so callers always receive exact ChunkSize
// units plus one short remainder at EOF.
type Resampler struct {
	nativeRate int
	channels   int
	ratio      float64 // native/target, fractional source step per output sample

	lastSample float32
	haveLast   bool

	pending []float32 // accumulated mono samples not yet flushed as a full chunk
}

// NewResampler builds a resampler for the given native device rate and
// channel count, downmixing and resampling down to TargetSampleRate mono.
func NewResampler(nativeRate, channels int) *Resampler {
	if channels < 1 {
		channels = 1
	}
	return &Resampler{
		nativeRate: nativeRate,
		channels:   channels,
		ratio:      float64(nativeRate) / float64(TargetSampleRate),
	}
}

// downmix averages channels into a single mono stream.
func (r *Resampler) downmix(interleaved []float32) []float32 {
	if r.channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / r.channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < r.channels; c++ {
			sum += interleaved[i*r.channels+c]
		}
		out[i] = sum / float32(r.channels)
	}
	return out
}

// Process downmixes and resamples one capture callback's worth of
// interleaved frames, returning zero or more exact ChunkSize chunks ready
// for the ring buffer. Any remainder shorter than ChunkSize is held for the
// next call.
func (r *Resampler) Process(interleaved []float32) [][]float32 {
	mono := r.downmix(interleaved)
	resampled := r.resample(mono)
	r.pending = append(r.pending, resampled...)

	var chunks [][]float32
	for len(r.pending) >= ChunkSize {
		chunk := make([]float32, ChunkSize)
		copy(chunk, r.pending[:ChunkSize])
		chunks = append(chunks, chunk)
		r.pending = r.pending[ChunkSize:]
	}
	return chunks
}

// resample performs linear-interpolation sample-rate conversion from the
// native rate to TargetSampleRate, carrying the last sample of the previous
// call forward for continuity at chunk boundaries.
func (r *Resampler) resample(input []float32) []float32 {
	if r.nativeRate == TargetSampleRate {
		r.updateLast(input)
		return input
	}
	if len(input) == 0 {
		return nil
	}

	outputLen := int(float64(len(input)) / r.ratio)
	out := make([]float32, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) * r.ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		var s1 float32
		if srcIdx < len(input) {
			s1 = input[srcIdx]
		} else if r.haveLast {
			s1 = r.lastSample
		}

		var s2 float32
		if srcIdx+1 < len(input) {
			s2 = input[srcIdx+1]
		} else {
			s2 = s1
		}

		out[i] = s1 + (s2-s1)*frac
	}

	r.updateLast(input)
	return out
}

func (r *Resampler) updateLast(input []float32) {
	if len(input) > 0 {
		r.lastSample = input[len(input)-1]
		r.haveLast = true
	}
}

// Flush returns any partial remainder shorter than ChunkSize, clearing it.
// Call at stream end so the tail of an utterance is not silently dropped.
func (r *Resampler) Flush() []float32 {
	out := r.pending
	r.pending = nil
	return out
}
