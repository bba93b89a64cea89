package audio

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// playbackRingCapacity bounds the lock-free output ring; large enough to
// buffer several seconds of 24kHz mono audio without overflow.
const playbackRingCapacity = 1 << 19

// playbackRing is a lock-free single-producer/single-consumer ring used
// between Sink.Enqueue and the device callback.
type playbackRing struct {
	samples [playbackRingCapacity]float32
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (r *playbackRing) push(in []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	avail := playbackRingCapacity - int(head-tail)
	n := len(in)
	if n > avail {
		n = avail
	}
	for i := 0; i < n; i++ {
		r.samples[(head+uint64(i))%playbackRingCapacity] = in[i]
	}
	r.head.Add(uint64(n))
	return n
}

func (r *playbackRing) pop() (float32, bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head == tail {
		return 0, false
	}
	s := r.samples[tail%playbackRingCapacity]
	r.tail.Add(1)
	return s, true
}

func (r *playbackRing) isEmpty() bool { return r.head.Load() == r.tail.Load() }
func (r *playbackRing) clear()        { r.tail.Store(r.head.Load()) }

// Device abstracts the malgo output device so Sink can be exercised in
// tests without real hardware. Out() is invoked by the backend whenever it
// needs more samples; Start/Stop bracket the device's lifetime.
type Device interface {
	Start(pull func() (float32, bool)) error
	Stop()
}

// Sink is the shared implementation behind the Oneshot and Streamed
// playback variants: it owns an output device, a volume gain clamped
// to [0, 2], a lock-free ring buffer, and a cancellation flag polled every
// 50ms. On cancel it stops immediately and discards pending audio; on
// normal end it blocks until the ring has drained.
type Sink struct {
	dev    Device
	ring   *playbackRing
	gain   atomic.Uint32 // float32 bits
	cancel *atomic.Bool  // shared with caller; polled, never owned exclusively

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewSink creates a playback sink sharing the given cancellation flag with
// the orchestrator.
func NewSink(dev Device, cancel *atomic.Bool) *Sink {
	s := &Sink{dev: dev, ring: &playbackRing{}, cancel: cancel}
	s.SetVolume(1.0)
	return s
}

// SetVolume clamps and stores the gain applied to every sample.
func (s *Sink) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 2 {
		v = 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeGain(v)
}

func (s *Sink) storeGain(v float32) { s.gain.Store(math.Float32bits(v)) }
func (s *Sink) loadGain() float32   { return math.Float32frombits(s.gain.Load()) }

func (s *Sink) ensureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.done = make(chan struct{}, 1)
	err := s.dev.Start(func() (float32, bool) {
		if s.cancel != nil && s.cancel.Load() {
			return 0, false
		}
		v, ok := s.ring.pop()
		if !ok {
			return 0, false
		}
		return v * s.loadGain(), true
	})
	if err != nil {
		return err
	}
	s.started = true
	return nil
}

// Oneshot appends pcm and blocks until it has fully played, or cancel fires.
func (s *Sink) Oneshot(pcm []float32) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	s.ring.push(pcm)
	return s.waitDrained()
}

// Streamed receives PCM chunks from a bounded channel (capacity 4
// upstream), appending each for gapless playback, and returns when
// the channel closes and the sink has drained.
func (s *Sink) Streamed(ctx context.Context, chunks <-chan []float32) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return s.waitDrained()
			}
			s.ring.push(chunk)
		case <-ctx.Done():
			s.ring.clear()
			return ctx.Err()
		default:
			if s.cancelled() {
				s.ring.clear()
				return nil
			}
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return s.waitDrained()
				}
				s.ring.push(chunk)
			case <-ctx.Done():
				s.ring.clear()
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

func (s *Sink) cancelled() bool { return s.cancel != nil && s.cancel.Load() }

// waitDrained polls every 50ms until the ring empties or cancel fires.
func (s *Sink) waitDrained() error {
	for {
		if s.cancelled() {
			s.ring.clear()
			return nil
		}
		if s.ring.isEmpty() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Close stops the underlying device.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.dev.Stop()
		s.started = false
	}
}
