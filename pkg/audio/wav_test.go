package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestNewWavBufferFloat32(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	wav := NewWavBufferFloat32(samples, TargetSampleRate)

	if len(wav) != 44+len(samples)*2 {
		t.Fatalf("length = %d, want %d", len(wav), 44+len(samples)*2)
	}

	rate := binary.LittleEndian.Uint32(wav[24:28])
	if rate != TargetSampleRate {
		t.Fatalf("sample rate in header = %d, want %d", rate, TargetSampleRate)
	}

	first := int16(binary.LittleEndian.Uint16(wav[44:46]))
	if first != 0 {
		t.Fatalf("first sample = %d, want 0", first)
	}
	second := int16(binary.LittleEndian.Uint16(wav[46:48]))
	if second < 16000 || second > 16500 {
		t.Fatalf("second sample = %d, want ~16383", second)
	}
}
