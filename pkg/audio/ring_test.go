package audio

import (
	"reflect"
	"testing"
)

func TestRingBufferOverflowDropsOldest(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.PushSlice([]float32{1, 2, 3, 4, 5, 6})

	got := rb.DrainAll()
	want := []float32{3, 4, 5, 6}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DrainAll() = %v, want %v", got, want)
	}
}

func TestRingBufferPushSliceOneAtATime(t *testing.T) {
	rb := NewRingBuffer(4)
	for _, v := range []float32{1, 2, 3, 4, 5, 6} {
		rb.PushSlice([]float32{v})
	}
	got := rb.DrainAll()
	want := []float32{3, 4, 5, 6}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DrainAll() = %v, want %v", got, want)
	}
}

func TestRingBufferPopSlicePartial(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.PushSlice([]float32{1, 2, 3})

	out := make([]float32, 2)
	n := rb.PopSlice(out)
	if n != 2 || out[0] != 1 || out[1] != 2 {
		t.Fatalf("PopSlice: n=%d out=%v", n, out)
	}
	if rb.Available() != 1 {
		t.Fatalf("Available() = %d, want 1", rb.Available())
	}
}

func TestRingBufferAvailableAndCapacity(t *testing.T) {
	rb := NewRingBuffer(10)
	if rb.Capacity() != 10 {
		t.Fatalf("Capacity() = %d, want 10", rb.Capacity())
	}
	rb.PushSlice([]float32{1, 2, 3})
	if rb.Available() != 3 {
		t.Fatalf("Available() = %d, want 3", rb.Available())
	}
}

func TestRingBufferNeverBlocksOnOverflow(t *testing.T) {
	rb := NewRingBuffer(2)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			rb.PushSlice([]float32{float32(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done
}
