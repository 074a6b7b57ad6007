// Package tempstore tracks every temporary evidence file the pipeline
// creates so disk space can be reclaimed deterministically: by age, at
// shutdown, or all at once when the disk is nearly full.
package tempstore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrInsufficientSpace is returned when the disk stays below the minimum
// free threshold even after reclamation.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// SpaceInfo reports filesystem capacity for the managed directory.
type SpaceInfo struct {
	Available  bool
	FreeBytes  uint64
	TotalBytes uint64
}

// Config controls thresholds and the reap age.
type Config struct {
	// Dir is where tracked temp files live. Created if missing.
	Dir string
	// MinFreeBytes is the hard floor below which file creation fails.
	MinFreeBytes uint64
	// WarnFreeBytes triggers opportunistic reclamation before costly
	// operations. Should be >= MinFreeBytes.
	WarnFreeBytes uint64
	// RoutineReapAge is the age threshold for routine reaping (default 1h).
	RoutineReapAge time.Duration
}

// Manager owns the process-wide tracked-file set. A single mutex guards
// the set; registration and deregistration are atomic with respect to
// concurrent reaping. The manager never takes any other lock while holding
// its own.
type Manager struct {
	mu      sync.Mutex
	tracked map[string]time.Time // path -> creation time

	cfg    Config
	logger *zap.Logger

	// Metrics
	created        atomic.Uint64
	released       atomic.Uint64
	reaped         atomic.Uint64
	emergencyReaps atomic.Uint64
}

// NewManager creates the directory if needed and returns the manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.RoutineReapAge <= 0 {
		cfg.RoutineReapAge = time.Hour
	}
	if cfg.WarnFreeBytes < cfg.MinFreeBytes {
		cfg.WarnFreeBytes = cfg.MinFreeBytes
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Manager{
		tracked: make(map[string]time.Time),
		cfg:     cfg,
		logger:  zap.L().Named("tempstore"),
	}, nil
}

// Dir returns the managed directory.
func (m *Manager) Dir() string { return m.cfg.Dir }

// CheckDiskSpace reports whether at least minFree bytes are available on
// the filesystem backing the managed directory.
func (m *Manager) CheckDiskSpace(minFree uint64) (SpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(m.cfg.Dir, &stat); err != nil {
		return SpaceInfo{}, fmt.Errorf("statfs %s: %w", m.cfg.Dir, err)
	}
	info := SpaceInfo{
		FreeBytes:  stat.Bavail * uint64(stat.Bsize),
		TotalBytes: stat.Blocks * uint64(stat.Bsize),
	}
	info.Available = info.FreeBytes >= minFree
	return info, nil
}

// CreateTracked allocates a new temp file and registers it for cleanup.
// When space is short it reclaims once and retries before giving up with
// ErrInsufficientSpace.
func (m *Manager) CreateTracked(prefix, suffix string) (string, error) {
	info, err := m.CheckDiskSpace(m.cfg.MinFreeBytes)
	if err != nil {
		return "", err
	}
	if !info.Available {
		if err := m.MonitorAndReclaim(); err != nil {
			return "", err
		}
		info, err = m.CheckDiskSpace(m.cfg.MinFreeBytes)
		if err != nil {
			return "", err
		}
		if !info.Available {
			return "", fmt.Errorf("%w: %d bytes free, need %d",
				ErrInsufficientSpace, info.FreeBytes, m.cfg.MinFreeBytes)
		}
	}

	f, err := os.CreateTemp(m.cfg.Dir, prefix+"*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	m.mu.Lock()
	m.tracked[path] = time.Now()
	m.mu.Unlock()

	m.created.Add(1)
	m.logger.Debug("tracked temp file created", zap.String("path", path))
	return path, nil
}

// Release removes a tracked file and deregisters it. Unknown paths are a
// no-op: the file may already have been reaped.
func (m *Manager) Release(path string) {
	m.mu.Lock()
	_, known := m.tracked[path]
	delete(m.tracked, path)
	m.mu.Unlock()

	if !known {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove released file",
			zap.String("path", path), zap.Error(err))
		return
	}
	m.released.Add(1)
}

// ReapOlderThan removes tracked files created more than age ago and
// returns how many were reclaimed.
func (m *Manager) ReapOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	return m.reap(func(created time.Time) bool { return created.Before(cutoff) }, false)
}

// ReapAll removes every tracked file regardless of age.
func (m *Manager) ReapAll() int {
	return m.reap(func(time.Time) bool { return true }, true)
}

func (m *Manager) reap(shouldReap func(time.Time) bool, emergency bool) int {
	m.mu.Lock()
	victims := make([]string, 0, len(m.tracked))
	for path, created := range m.tracked {
		if shouldReap(created) {
			victims = append(victims, path)
			delete(m.tracked, path)
		}
	}
	m.mu.Unlock()

	for _, path := range victims {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to reap file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		m.reaped.Add(1)
	}

	if len(victims) > 0 {
		if emergency {
			m.logger.Warn("EMERGENCY reclaim: removed all tracked files",
				zap.Int("count", len(victims)))
		} else {
			m.logger.Info("reaped aged temp files", zap.Int("count", len(victims)))
		}
	}
	return len(victims)
}

// MonitorAndReclaim is invoked before costly operations. At the warning
// threshold it reaps routine-aged files; if space is still short it falls
// back to removing everything tracked. The emergency path is deliberately
// destructive and logged as such.
func (m *Manager) MonitorAndReclaim() error {
	info, err := m.CheckDiskSpace(m.cfg.WarnFreeBytes)
	if err != nil {
		return err
	}
	if info.Available {
		return nil
	}

	m.logger.Warn("disk space below warning threshold",
		zap.Uint64("free_bytes", info.FreeBytes),
		zap.Uint64("warn_threshold", m.cfg.WarnFreeBytes))

	m.ReapOlderThan(m.cfg.RoutineReapAge)

	info, err = m.CheckDiskSpace(m.cfg.WarnFreeBytes)
	if err != nil {
		return err
	}
	if info.Available {
		return nil
	}

	m.emergencyReaps.Add(1)
	m.ReapAll()

	info, err = m.CheckDiskSpace(m.cfg.MinFreeBytes)
	if err != nil {
		return err
	}
	if !info.Available {
		return fmt.Errorf("%w after emergency reclaim: %d bytes free",
			ErrInsufficientSpace, info.FreeBytes)
	}
	return nil
}

// TrackedCount returns the number of files currently tracked.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Shutdown reaps everything tracked. Called once at process exit.
func (m *Manager) Shutdown() {
	n := m.ReapAll()
	m.logger.Info("tempstore shut down", zap.Int("files_removed", n))
}

// Metrics returns lifecycle counters.
func (m *Manager) Metrics() map[string]any {
	return map[string]any{
		"created":         m.created.Load(),
		"released":        m.released.Load(),
		"reaped":          m.reaped.Load(),
		"emergency_reaps": m.emergencyReaps.Load(),
		"tracked":         m.TrackedCount(),
	}
}
