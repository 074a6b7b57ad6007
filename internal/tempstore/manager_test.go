package tempstore

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Dir:            t.TempDir(),
		MinFreeBytes:   1, // any real filesystem passes
		WarnFreeBytes:  1,
		RoutineReapAge: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestCreateTrackedAndRelease(t *testing.T) {
	m := newTestManager(t)

	path, err := m.CreateTracked("evidence_", ".mp4")
	if err != nil {
		t.Fatalf("CreateTracked failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("tracked file missing: %v", err)
	}
	if m.TrackedCount() != 1 {
		t.Fatalf("expected 1 tracked file, got %d", m.TrackedCount())
	}

	m.Release(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("released file should be gone, stat err = %v", err)
	}
	if m.TrackedCount() != 0 {
		t.Fatalf("expected 0 tracked files, got %d", m.TrackedCount())
	}

	// Releasing again is a no-op.
	m.Release(path)
}

func TestReapOlderThan(t *testing.T) {
	m := newTestManager(t)

	old, err := m.CreateTracked("old_", ".tmp")
	if err != nil {
		t.Fatalf("CreateTracked failed: %v", err)
	}
	// Backdate the old file's registration.
	m.mu.Lock()
	m.tracked[old] = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	fresh, err := m.CreateTracked("fresh_", ".tmp")
	if err != nil {
		t.Fatalf("CreateTracked failed: %v", err)
	}

	if n := m.ReapOlderThan(time.Hour); n != 1 {
		t.Fatalf("expected 1 reaped file, got %d", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("old file should have been reaped")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file should survive: %v", err)
	}
}

func TestReapAll(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 5; i++ {
		if _, err := m.CreateTracked("f_", ".tmp"); err != nil {
			t.Fatalf("CreateTracked failed: %v", err)
		}
	}
	if n := m.ReapAll(); n != 5 {
		t.Fatalf("expected 5 reaped files, got %d", n)
	}
	if m.TrackedCount() != 0 {
		t.Fatalf("expected empty tracked set, got %d", m.TrackedCount())
	}
}

func TestShutdownReapsEverything(t *testing.T) {
	m := newTestManager(t)

	path, err := m.CreateTracked("f_", ".tmp")
	if err != nil {
		t.Fatalf("CreateTracked failed: %v", err)
	}
	m.Shutdown()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("shutdown should remove tracked files")
	}
}

func TestInsufficientSpaceSurfaces(t *testing.T) {
	m, err := NewManager(Config{
		Dir: t.TempDir(),
		// Impossibly large floor: guaranteed insufficient.
		MinFreeBytes:   ^uint64(0) >> 1,
		WarnFreeBytes:  ^uint64(0) >> 1,
		RoutineReapAge: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, err := m.CreateTracked("f_", ".tmp"); !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", err)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	m := newTestManager(t)

	info, err := m.CheckDiskSpace(1)
	if err != nil {
		t.Fatalf("CheckDiskSpace failed: %v", err)
	}
	if !info.Available {
		t.Fatal("expected at least 1 byte free")
	}
	if info.TotalBytes == 0 {
		t.Fatal("expected nonzero total")
	}
}

func TestConcurrentCreateAndReap(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := m.CreateTracked("c_", ".tmp"); err != nil {
					t.Errorf("CreateTracked failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 40; j++ {
			m.ReapAll()
		}
	}()
	wg.Wait()

	m.ReapAll()
	if m.TrackedCount() != 0 {
		t.Fatalf("expected empty set after final reap, got %d", m.TrackedCount())
	}
}
