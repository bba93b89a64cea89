package audio

import "testing"

func TestResamplerSameRatePassthrough(t *testing.T) {
	r := NewResampler(TargetSampleRate, 1)
	in := make([]float32, ChunkSize)
	for i := range in {
		in[i] = float32(i) / float32(ChunkSize)
	}
	chunks := r.Process(in)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if len(chunks[0]) != ChunkSize {
		t.Fatalf("chunk len = %d, want %d", len(chunks[0]), ChunkSize)
	}
}

func TestResamplerDownmixesStereo(t *testing.T) {
	r := NewResampler(TargetSampleRate, 2)
	// Left=1, Right=-1 for every frame: should downmix to 0.
	in := make([]float32, ChunkSize*2)
	for i := 0; i < ChunkSize; i++ {
		in[i*2] = 1
		in[i*2+1] = -1
	}
	chunks := r.Process(in)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	for _, s := range chunks[0] {
		if s != 0 {
			t.Fatalf("downmix sample = %v, want 0", s)
		}
	}
}

func TestResamplerAccumulatesPartialChunks(t *testing.T) {
	r := NewResampler(TargetSampleRate, 1)
	half := make([]float32, ChunkSize/2)
	if chunks := r.Process(half); len(chunks) != 0 {
		t.Fatalf("got %d chunks from half a chunk, want 0", len(chunks))
	}
	if chunks := r.Process(half); len(chunks) != 1 {
		t.Fatalf("got %d chunks after completing the chunk, want 1", len(chunks))
	}
}

func TestResamplerFlushReturnsRemainder(t *testing.T) {
	r := NewResampler(TargetSampleRate, 1)
	r.Process(make([]float32, 10))
	rem := r.Flush()
	if len(rem) != 10 {
		t.Fatalf("Flush() len = %d, want 10", len(rem))
	}
	if len(r.Flush()) != 0 {
		t.Fatalf("second Flush() should be empty")
	}
}

func TestResamplerDownsamplesHalfRate(t *testing.T) {
	r := NewResampler(TargetSampleRate*2, 1)
	in := make([]float32, ChunkSize*2)
	for i := range in {
		in[i] = 1
	}
	chunks := r.Process(in)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 (downsampled by half)", len(chunks))
	}
}
