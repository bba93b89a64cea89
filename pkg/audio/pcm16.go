package audio

import "encoding/binary"

// Float32ToPCM16LE converts mono float32 samples in [-1, 1] to 16-bit
// little-endian PCM bytes, the byte layout NewWavBuffer and EchoSuppressor
// both expect.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16LEToFloat32 converts 16-bit little-endian PCM bytes back to mono
// float32 samples in [-1, 1].
func PCM16LEToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}
