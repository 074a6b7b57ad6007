package framebuf

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store holds the per-client buffer sets. It is the only place buffers are
// created or destroyed; frame data itself lives in the SourceBuffers, each
// guarded by its own lock, so appends for different sources never contend.
type Store struct {
	mu      sync.RWMutex
	clients map[string]*clientBuffers

	capacity    int
	fps         float64
	idleTimeout time.Duration

	logger *zap.Logger

	janitorStop chan struct{}
	janitorOnce sync.Once
}

type clientBuffers struct {
	mu      sync.Mutex
	sources map[string]*SourceBuffer
}

// StoreConfig sizes the per-source buffers and controls idle eviction.
type StoreConfig struct {
	// LongWindow is the retention horizon; capacity = LongWindow * TargetFPS.
	LongWindow time.Duration
	TargetFPS  float64
	// IdleTimeout evicts buffers that have not seen a frame for this long.
	// Zero disables the janitor.
	IdleTimeout time.Duration
	// JanitorInterval defaults to one minute.
	JanitorInterval time.Duration
}

// NewStore creates the buffer store and, when idle eviction is configured,
// starts its janitor goroutine. Call Close to stop the janitor.
func NewStore(cfg StoreConfig) *Store {
	capacity := int(cfg.LongWindow.Seconds() * cfg.TargetFPS)
	if capacity <= 0 {
		capacity = 1
	}
	s := &Store{
		clients:     make(map[string]*clientBuffers),
		capacity:    capacity,
		fps:         cfg.TargetFPS,
		idleTimeout: cfg.IdleTimeout,
		logger:      zap.L().Named("frame-store"),
		janitorStop: make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		interval := cfg.JanitorInterval
		if interval <= 0 {
			interval = time.Minute
		}
		go s.janitor(interval)
	}
	return s
}

// Append validates and buffers one frame, creating the source buffer on
// first use. Malformed payloads are rejected with ErrInvalidFrame and
// nothing is stored.
func (s *Store) Append(client, source string, payload []byte, seq uint64, capturedAt time.Time) error {
	if err := validatePayload(payload); err != nil {
		return err
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	buf := s.bufferFor(client, source)
	buf.Append(Frame{
		Payload:    payload,
		Sequence:   seq,
		CapturedAt: capturedAt,
		Source:     source,
	})
	return nil
}

// SnapshotWindow returns an immutable copy of the most recent frames
// covering d for the given source, oldest first.
func (s *Store) SnapshotWindow(client, source string, d time.Duration) ([]Frame, error) {
	s.mu.RLock()
	cb := s.clients[client]
	s.mu.RUnlock()
	if cb == nil {
		return nil, ErrUnknownSource
	}

	cb.mu.Lock()
	buf := cb.sources[source]
	cb.mu.Unlock()
	if buf == nil {
		return nil, ErrUnknownSource
	}
	return buf.Snapshot(d), nil
}

// ListSources returns the active source identifiers for a client, sorted.
func (s *Store) ListSources(client string) []string {
	s.mu.RLock()
	cb := s.clients[client]
	s.mu.RUnlock()
	if cb == nil {
		return nil
	}

	cb.mu.Lock()
	out := make([]string, 0, len(cb.sources))
	for src := range cb.sources {
		out = append(out, src)
	}
	cb.mu.Unlock()

	sort.Strings(out)
	return out
}

// RemoveClient drops every buffer for a client. Snapshots already handed
// out remain valid; only the store's references are released.
func (s *Store) RemoveClient(client string) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
}

// Close stops the idle janitor. Buffer contents are in-memory only and
// simply become garbage.
func (s *Store) Close() {
	s.janitorOnce.Do(func() { close(s.janitorStop) })
}

func (s *Store) bufferFor(client, source string) *SourceBuffer {
	s.mu.RLock()
	cb := s.clients[client]
	s.mu.RUnlock()

	if cb == nil {
		s.mu.Lock()
		cb = s.clients[client]
		if cb == nil {
			cb = &clientBuffers{sources: make(map[string]*SourceBuffer)}
			s.clients[client] = cb
		}
		s.mu.Unlock()
	}

	cb.mu.Lock()
	buf := cb.sources[source]
	if buf == nil {
		buf = NewSourceBuffer(s.capacity, s.fps)
		cb.sources[source] = buf
		s.logger.Info("source buffer created",
			zap.String("client", client),
			zap.String("source", source),
			zap.Int("capacity", s.capacity))
	}
	cb.mu.Unlock()
	return buf
}

func (s *Store) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.janitorStop:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *Store) evictIdle() {
	cutoff := time.Now().Add(-s.idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	for client, cb := range s.clients {
		cb.mu.Lock()
		for src, buf := range cb.sources {
			last := buf.IdleSince()
			if !last.IsZero() && last.Before(cutoff) {
				delete(cb.sources, src)
				s.logger.Info("idle source buffer evicted",
					zap.String("client", client),
					zap.String("source", src),
					zap.Time("last_append", last))
			}
		}
		empty := len(cb.sources) == 0
		cb.mu.Unlock()
		if empty {
			delete(s.clients, client)
		}
	}
}

// Metrics aggregates buffer statistics across all clients.
func (s *Store) Metrics() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := len(s.clients)
	buffers := 0
	frames := 0
	for _, cb := range s.clients {
		cb.mu.Lock()
		buffers += len(cb.sources)
		for _, buf := range cb.sources {
			frames += buf.Len()
		}
		cb.mu.Unlock()
	}
	return map[string]any{
		"clients":         clients,
		"buffers":         buffers,
		"retained_frames": frames,
		"buffer_capacity": s.capacity,
	}
}
