package framebuf

import (
	"sync"
	"sync/atomic"
	"time"
)

// SourceBuffer is a fixed-capacity circular buffer of frames for one
// (client, source) pair.
// Semantics:
//   - Append stores the newest frame; if full, the oldest is overwritten.
//   - Snapshot copies out the most recent frames covering a duration and
//     never reflects appends that happen after it returns.
//   - All access goes through the buffer's own mutex so concurrent sources
//     never contend with each other.
type SourceBuffer struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	writePos int64 // total frames ever written
	fps      float64

	lastAppend time.Time

	// Metrics
	totalWrites atomic.Uint64
	overflows   atomic.Uint64 // overwrites performed while full
}

// NewSourceBuffer creates a buffer sized for the retention window:
// capacity = longWindowSeconds * targetFPS.
func NewSourceBuffer(capacity int, fps float64) *SourceBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	if fps <= 0 {
		fps = 1
	}
	return &SourceBuffer{
		frames:   make([]Frame, capacity),
		capacity: capacity,
		fps:      fps,
	}
}

// Append stores a frame, evicting the oldest when the buffer is full.
// The critical section is a slot write and cursor bump; callers are never
// blocked behind anything slower.
func (b *SourceBuffer) Append(f Frame) {
	b.mu.Lock()
	pos := int(b.writePos % int64(b.capacity))
	if b.writePos >= int64(b.capacity) {
		b.overflows.Add(1)
	}
	b.frames[pos] = f
	b.writePos++
	b.lastAppend = time.Now()
	b.mu.Unlock()

	b.totalWrites.Add(1)
}

// Len returns the number of frames currently retained (<= capacity).
func (b *SourceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained()
}

// Capacity returns the fixed capacity of the buffer.
func (b *SourceBuffer) Capacity() int { return b.capacity }

func (b *SourceBuffer) retained() int {
	if b.writePos < int64(b.capacity) {
		return int(b.writePos)
	}
	return b.capacity
}

// Snapshot returns an immutable copy of the most recent frames covering d
// (fewer if the buffer has not filled that far yet), oldest first. The copy
// is taken under the buffer lock, so it is linearizable with respect to
// concurrent Append: no torn reads during eviction, no frames from after
// the call.
func (b *SourceBuffer) Snapshot(d time.Duration) []Frame {
	want := int(d.Seconds() * b.fps)
	if want <= 0 {
		want = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.retained()
	if n == 0 {
		return nil
	}
	if want > n {
		want = n
	}

	start := b.writePos - int64(want)
	out := make([]Frame, 0, want)
	for i := int64(0); i < int64(want); i++ {
		pos := int((start + i) % int64(b.capacity))
		out = append(out, b.frames[pos])
	}
	return out
}

// IdleSince reports the time of the last append. The zero time means the
// buffer has never been written.
func (b *SourceBuffer) IdleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAppend
}

// Metrics returns buffer statistics.
func (b *SourceBuffer) Metrics() map[string]any {
	b.mu.Lock()
	retained := b.retained()
	writePos := b.writePos
	b.mu.Unlock()

	return map[string]any{
		"capacity":     b.capacity,
		"current_size": retained,
		"total_writes": b.totalWrites.Load(),
		"overflows":    b.overflows.Load(),
		"write_position": writePos,
	}
}
