package framebuf

import (
	"sync"
	"testing"
	"time"
)

// jpegPayload builds a minimal byte slice that sniffs as image/jpeg.
func jpegPayload(seq uint64) []byte {
	p := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	p = append(p, byte(seq), byte(seq>>8), byte(seq>>16), byte(seq>>24))
	return p
}

func appendSeq(b *SourceBuffer, seq uint64) {
	b.Append(Frame{
		Payload:    jpegPayload(seq),
		Sequence:   seq,
		CapturedAt: time.Now(),
		Source:     "cam-1",
	})
}

func TestBoundedBuffer(t *testing.T) {
	// 10s window at 25fps: capacity 250.
	b := NewSourceBuffer(250, 25)

	for seq := uint64(0); seq < 300; seq++ {
		appendSeq(b, seq)
	}

	if b.Len() != 250 {
		t.Fatalf("expected 250 retained frames, got %d", b.Len())
	}

	frames := b.Snapshot(10 * time.Second)
	if len(frames) != 250 {
		t.Fatalf("expected snapshot of 250 frames, got %d", len(frames))
	}
	if frames[0].Sequence != 50 {
		t.Fatalf("expected oldest sequence 50, got %d", frames[0].Sequence)
	}
	if frames[len(frames)-1].Sequence != 299 {
		t.Fatalf("expected newest sequence 299, got %d", frames[len(frames)-1].Sequence)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Sequence != frames[i-1].Sequence+1 {
			t.Fatalf("sequence gap at %d: %d -> %d", i, frames[i-1].Sequence, frames[i].Sequence)
		}
	}
}

func TestSnapshotShorterThanFill(t *testing.T) {
	b := NewSourceBuffer(250, 25)
	for seq := uint64(0); seq < 30; seq++ {
		appendSeq(b, seq)
	}

	frames := b.Snapshot(10 * time.Second)
	if len(frames) != 30 {
		t.Fatalf("expected all 30 buffered frames, got %d", len(frames))
	}

	// A 1s window at 25fps takes only the newest 25.
	frames = b.Snapshot(time.Second)
	if len(frames) != 25 {
		t.Fatalf("expected 25 frames for 1s window, got %d", len(frames))
	}
	if frames[0].Sequence != 5 {
		t.Fatalf("expected oldest sequence 5, got %d", frames[0].Sequence)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	b := NewSourceBuffer(100, 25)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		seq := uint64(0)
		for {
			select {
			case <-stop:
				return
			default:
				appendSeq(b, seq)
				seq++
			}
		}
	}()

	// Snapshots under concurrent appends must always be contiguous in
	// sequence order and never exceed capacity.
	for i := 0; i < 200; i++ {
		frames := b.Snapshot(4 * time.Second)
		if len(frames) > 100 {
			t.Fatalf("snapshot exceeds capacity: %d", len(frames))
		}
		for j := 1; j < len(frames); j++ {
			if frames[j].Sequence != frames[j-1].Sequence+1 {
				t.Fatalf("torn snapshot: %d followed by %d",
					frames[j-1].Sequence, frames[j].Sequence)
			}
		}
	}
	close(stop)
	wg.Wait()

	// A snapshot must not change after later appends.
	snap := b.Snapshot(time.Second)
	want := make([]uint64, len(snap))
	for i, f := range snap {
		want[i] = f.Sequence
	}
	for seq := uint64(10000); seq < 10200; seq++ {
		appendSeq(b, seq)
	}
	for i, f := range snap {
		if f.Sequence != want[i] {
			t.Fatalf("snapshot mutated after append: index %d changed to %d", i, f.Sequence)
		}
	}
}

func TestBufferMetrics(t *testing.T) {
	b := NewSourceBuffer(10, 5)
	for seq := uint64(0); seq < 15; seq++ {
		appendSeq(b, seq)
	}
	m := b.Metrics()
	if m["current_size"].(int) != 10 {
		t.Fatalf("expected current_size 10, got %v", m["current_size"])
	}
	if m["overflows"].(uint64) != 5 {
		t.Fatalf("expected 5 overflows, got %v", m["overflows"])
	}
	if m["total_writes"].(uint64) != 15 {
		t.Fatalf("expected 15 writes, got %v", m["total_writes"])
	}
}
