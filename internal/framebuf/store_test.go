package framebuf

import (
	"errors"
	"testing"
	"time"
)

func newTestStore() *Store {
	return NewStore(StoreConfig{
		LongWindow: 10 * time.Second,
		TargetFPS:  25,
	})
}

func TestStoreAppendAndSnapshot(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	for seq := uint64(0); seq < 50; seq++ {
		if err := s.Append("client-a", "cam-1", jpegPayload(seq), seq, time.Now()); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	frames, err := s.SnapshotWindow("client-a", "cam-1", time.Second)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(frames) != 25 {
		t.Fatalf("expected 25 frames, got %d", len(frames))
	}
	if frames[0].Sequence != 25 {
		t.Fatalf("expected oldest sequence 25, got %d", frames[0].Sequence)
	}
}

func TestStoreRejectsInvalidFrames(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"zero length", []byte{}},
		{"not an image", []byte("hello world, definitely not pixels")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Append("client-a", "cam-1", tc.payload, 0, time.Now())
			if !errors.Is(err, ErrInvalidFrame) {
				t.Fatalf("expected ErrInvalidFrame, got %v", err)
			}
		})
	}

	// Nothing buffered: the source should not exist.
	if _, err := s.SnapshotWindow("client-a", "cam-1", time.Second); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource after only invalid appends, got %v", err)
	}
}

func TestStoreUnknownSource(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	if _, err := s.SnapshotWindow("nobody", "cam-1", time.Second); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestStoreListSources(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	for _, src := range []string{"cam-2", "cam-1", "dock"} {
		if err := s.Append("client-a", src, jpegPayload(0), 0, time.Now()); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got := s.ListSources("client-a")
	want := []string{"cam-1", "cam-2", "dock"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if srcs := s.ListSources("nobody"); srcs != nil {
		t.Fatalf("expected nil for unknown client, got %v", srcs)
	}
}

func TestStoreRemoveClient(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	if err := s.Append("client-a", "cam-1", jpegPayload(0), 0, time.Now()); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	s.RemoveClient("client-a")

	if _, err := s.SnapshotWindow("client-a", "cam-1", time.Second); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource after removal, got %v", err)
	}
}

func TestStoreIdleEviction(t *testing.T) {
	s := NewStore(StoreConfig{
		LongWindow:  10 * time.Second,
		TargetFPS:   25,
		IdleTimeout: 10 * time.Millisecond,
		// Long interval; we drive eviction directly.
		JanitorInterval: time.Hour,
	})
	defer s.Close()

	if err := s.Append("client-a", "cam-1", jpegPayload(0), 0, time.Now()); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	s.evictIdle()

	if _, err := s.SnapshotWindow("client-a", "cam-1", time.Second); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected buffer to be evicted, got %v", err)
	}
}

func TestStoreMetrics(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	for seq := uint64(0); seq < 10; seq++ {
		_ = s.Append("client-a", "cam-1", jpegPayload(seq), seq, time.Now())
		_ = s.Append("client-b", "cam-1", jpegPayload(seq), seq, time.Now())
	}

	m := s.Metrics()
	if m["clients"].(int) != 2 {
		t.Fatalf("expected 2 clients, got %v", m["clients"])
	}
	if m["buffers"].(int) != 2 {
		t.Fatalf("expected 2 buffers, got %v", m["buffers"])
	}
	if m["retained_frames"].(int) != 20 {
		t.Fatalf("expected 20 retained frames, got %v", m["retained_frames"])
	}
}
