package audio

import (
	"bytes"
	"encoding/binary"
)

// NewWavBuffer wraps raw 16-bit little-endian mono PCM in a minimal RIFF
// header so HTTP transcription endpoints accept it as a file upload.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// NewWavBufferFloat32 converts normalized mono float32 samples to PCM16
// and wraps them in a RIFF header; the shape every cloud transcriber in
// this repo uploads.
func NewWavBufferFloat32(samples []float32, sampleRate int) []byte {
	return NewWavBuffer(Float32ToPCM16LE(samples), sampleRate)
}
