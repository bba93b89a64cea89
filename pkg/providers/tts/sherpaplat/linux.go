//go:build linux

// Package sherpaplat re-exports the TTS-relevant slice of the sherpa-onnx
// Go bindings so callers do not need a platform build tag of their own.
package sherpaplat

import impl "github.com/k2-fsa/sherpa-onnx-go-linux"

type OfflineTts = impl.OfflineTts
type OfflineTtsConfig = impl.OfflineTtsConfig
type GeneratedAudio = impl.GeneratedAudio

var NewOfflineTts = impl.NewOfflineTts
var DeleteOfflineTts = impl.DeleteOfflineTts
