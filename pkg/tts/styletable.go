package tts

import "fmt"

// StyleTable holds a per-voice style-embedding matrix of shape
// [N, StyleDim], flattened row-major, as shipped in the voices-v1.0.bin
// file alongside the Kokoro ONNX model.
type StyleTable struct {
	data       []float32
	numEntries int
}

// NewStyleTable wraps a flat style-embedding buffer. data's length must
// be a multiple of StyleDim.
func NewStyleTable(data []float32) (*StyleTable, error) {
	if len(data)%StyleDim != 0 {
		return nil, fmt.Errorf("tts: style data length %d not divisible by style dim %d", len(data), StyleDim)
	}
	return &StyleTable{data: data, numEntries: len(data) / StyleDim}, nil
}

// StyleForLen returns the style vector for the given token count,
// clamped to the last available entry when the count exceeds the table.
func (s *StyleTable) StyleForLen(tokenCount int) ([]float32, error) {
	if s.numEntries == 0 {
		return nil, fmt.Errorf("tts: voice style table is empty")
	}
	idx := tokenCount
	if idx >= s.numEntries {
		idx = s.numEntries - 1
	}
	start := idx * StyleDim
	vec := make([]float32, StyleDim)
	copy(vec, s.data[start:start+StyleDim])
	return vec, nil
}
