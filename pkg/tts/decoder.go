package tts

import "fmt"

// Decoder turns a compressed audio payload into mono float32 PCM. The
// cloud adapter receives MP3 frames from the Edge Read Aloud endpoint
// and needs one of these to produce samples the playback sink can use.
type Decoder interface {
	// Decode converts a complete compressed-audio buffer (e.g. one
	// full MP3 stream accumulated from a synthesis turn) into mono
	// float32 PCM, downmixing multi-channel input by averaging.
	Decode(data []byte) ([]float32, error)
}

// UnsupportedDecoder reports that no MP3 decoding library was wired in
// for this build. The rest of the audio stack speaks PCM/WAV only, so
// rather than hand-roll an MP3 bitstream decoder, the cloud TTS adapter
// ships against this interface and callers supply a real Decoder (e.g.
// backed by a CGO libmpg123 binding) at construction time.
type UnsupportedDecoder struct{}

// Decode always fails; see UnsupportedDecoder's doc comment.
func (UnsupportedDecoder) Decode(data []byte) ([]float32, error) {
	return nil, fmt.Errorf("tts: no MP3 decoder configured (%d bytes undecoded)", len(data))
}
