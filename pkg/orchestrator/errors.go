package orchestrator

import "errors"

var (
	ErrPipelineNotRunning = errors.New("voice pipeline is not running")

	ErrTTSBusy = errors.New("tts engine slot still held by a prior speak call")

	ErrEmptyText = errors.New("empty text passed to synthesis")
)
