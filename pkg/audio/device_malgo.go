package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// MalgoPlaybackDevice adapts malgo's playback device callback to the
// Device interface Sink depends on, matching the persistent-device pattern
// used for capture: one context, one device, started once and fed from the
// audio callback via a pull function rather than owning its own buffering.
type MalgoPlaybackDevice struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate uint32
}

// NewMalgoPlaybackDevice opens a malgo playback context at the given
// sample rate. The device itself is not started until Start is called.
func NewMalgoPlaybackDevice(sampleRate uint32) (*MalgoPlaybackDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init playback context: %w", err)
	}
	return &MalgoPlaybackDevice{ctx: ctx, sampleRate: sampleRate}, nil
}

// Start configures and starts the malgo device, pulling one float32 sample
// per output frame from pull. pull returning false means "emit silence"
// (used for the idle-device case); the device is never stopped by pull
// returning false — only by an explicit Stop call.
func (d *MalgoPlaybackDevice) Start(pull func() (float32, bool)) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = d.sampleRate
	cfg.PeriodSizeInMilliseconds = 50

	onSend := func(out, _ []byte, frameCount uint32) {
		for i := 0; i < int(frameCount); i++ {
			var sample float32
			if v, ok := pull(); ok {
				sample = v
			}
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(sample))
		}
	}

	device, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}
	d.device = device
	return nil
}

// Stop halts and releases the device and context.
func (d *MalgoPlaybackDevice) Stop() {
	if d.device != nil {
		d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}
