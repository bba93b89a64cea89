package audio

import (
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// Capturer owns a malgo input device and feeds its callback through a
// Resampler into a RingBuffer. The audio callback never blocks: it hands
// interleaved frames to the resampler and pushes whatever full chunks fall
// out directly into the ring buffer's PushSlice, which itself never blocks.
type Capturer struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rs     *Resampler
	ring   *RingBuffer

	deviceID   *malgo.DeviceID
	nativeRate uint32
	channels   uint32
}

// NewCapturer opens the named input device (or the default, if deviceName
// is empty) and queries its native rate and channel count by initializing
// a probe device. The device is not started until Start is called.
func NewCapturer(deviceName string, ring *RingBuffer) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init capture context: %w", err)
	}

	deviceID := findCaptureDeviceID(ctx, deviceName)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	if deviceID != nil {
		cfg.Capture.DeviceID = deviceID.Pointer()
	}

	// The backend only reports the rate and channel count it actually
	// opened the hardware with, so probe with a throwaway device.
	nativeRate := uint32(48000)
	channels := uint32(1)
	if probe, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{}); err == nil {
		nativeRate = probe.SampleRate()
		if ch := probe.CaptureChannels(); ch > 0 {
			channels = ch
		}
		probe.Uninit()
	}

	c := &Capturer{
		ctx:        ctx,
		rs:         NewResampler(int(nativeRate), int(channels)),
		ring:       ring,
		deviceID:   deviceID,
		nativeRate: nativeRate,
		channels:   channels,
	}
	return c, nil
}

// Start begins capture, pushing resampled mono 16kHz chunks into the ring
// buffer from the audio backend's own callback thread.
func (c *Capturer) Start() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = c.channels
	cfg.SampleRate = c.nativeRate
	if c.deviceID != nil {
		cfg.Capture.DeviceID = c.deviceID.Pointer()
	}

	onRecv := func(_, in []byte, frameCount uint32) {
		samples := bytesToFloat32(in, int(frameCount)*int(c.channels))
		for _, chunk := range c.rs.Process(samples) {
			c.ring.PushSlice(chunk)
		}
	}

	device, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}
	c.device = device
	return nil
}

// Stop halts capture. Dropping the stream this way is what actually stops
// hardware capture.
func (c *Capturer) Stop() {
	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}

func bytesToFloat32(b []byte, n int) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
