package audio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// DeviceInfo describes one hardware endpoint as reported by the audio
// backend. ID is stable for the lifetime of the process only.
type DeviceInfo struct {
	ID   string
	Name string
}

// ListDevices enumerates the capture and playback endpoints the backend
// can see. A machine with no audio hardware returns two empty slices, not
// an error.
func ListDevices() (inputs, outputs []DeviceInfo, err error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("init device enumeration context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	capture, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	for i, d := range capture {
		inputs = append(inputs, DeviceInfo{ID: fmt.Sprintf("in:%d", i), Name: d.Name()})
	}

	playback, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate playback devices: %w", err)
	}
	for i, d := range playback {
		outputs = append(outputs, DeviceInfo{ID: fmt.Sprintf("out:%d", i), Name: d.Name()})
	}
	return inputs, outputs, nil
}

// findCaptureDeviceID resolves a device name (case-insensitive substring
// match, the way users type device names) to the backend's opaque id.
// Returns nil for an empty name or no match, which selects the default
// device.
func findCaptureDeviceID(ctx *malgo.AllocatedContext, name string) *malgo.DeviceID {
	if name == "" {
		return nil
	}
	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name()), want) {
			id := d.ID
			return &id
		}
	}
	return nil
}
