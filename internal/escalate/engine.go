package escalate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikeyg42/sentryvision/internal/classify"
	"github.com/mikeyg42/sentryvision/internal/framebuf"
)

// Config controls window sizes and classifier bounds.
type Config struct {
	// ShortWindow is the fast first-pass scan window (default 3s).
	ShortWindow time.Duration
	// LongWindow is the confirmation and evidence window (default 10s).
	LongWindow time.Duration
	// MaxClassifierFrames caps frames per classifier request regardless of
	// buffer depth (default 25). The full window is still kept for video.
	MaxClassifierFrames int
	// StageTimeout bounds each classifier call (default 30s).
	StageTimeout time.Duration
	// MaxParallel > 1 analyzes batch sources concurrently.
	MaxParallel int
}

func (c *Config) applyDefaults() {
	if c.ShortWindow <= 0 {
		c.ShortWindow = 3 * time.Second
	}
	if c.LongWindow <= 0 {
		c.LongWindow = 10 * time.Second
	}
	if c.MaxClassifierFrames <= 0 {
		c.MaxClassifierFrames = 25
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 30 * time.Second
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 1
	}
}

// Engine orchestrates the two-stage protocol. It owns no frames: snapshots
// are taken from the buffer store, the buffer lock is released, and the
// (potentially multi-second) classifier call runs against the copy.
type Engine struct {
	buffers    *framebuf.Store
	classifier classify.Classifier
	cfg        Config
	logger     *zap.Logger

	// Metrics
	analyses  atomic.Uint64
	detected  atomic.Uint64
	confirmed atomic.Uint64
	vetoed    atomic.Uint64
	degraded  atomic.Uint64
}

// NewEngine wires the buffer store and classifier capability.
func NewEngine(buffers *framebuf.Store, classifier classify.Classifier, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		buffers:    buffers,
		classifier: classifier,
		cfg:        cfg,
		logger:     zap.L().Named("escalation-engine"),
	}
}

// AnalyzeSource runs the full state machine for one (client, source).
// Classifier failures are absorbed into a degraded analysis per stage;
// the only hard error is an unknown source.
func (e *Engine) AnalyzeSource(ctx context.Context, client, source string) (IncidentAnalysis, error) {
	e.analyses.Add(1)

	analysis := IncidentAnalysis{
		AlertID:    uuid.NewString(),
		Client:     client,
		Source:     source,
		Stage:      StageShort,
		RiskLevel:  RiskLow,
		AnalyzedAt: time.Now(),
	}

	// IDLE -> SHORT_ANALYSIS: snapshot, release lock, classify the copy.
	shortFrames, err := e.buffers.SnapshotWindow(client, source, e.cfg.ShortWindow)
	if err != nil {
		return analysis, err
	}
	analysis.ShortFrames = len(shortFrames)
	if len(shortFrames) == 0 {
		analysis.Narrative = "no frames buffered"
		return analysis, nil
	}

	sampled := classify.SampleFrames(payloads(shortFrames), e.cfg.MaxClassifierFrames)
	shortRes, err := classify.WithTimeout(ctx, e.classifier, e.cfg.StageTimeout,
		sampled, classify.ShortWindowPrompt(int(e.cfg.ShortWindow.Seconds())))
	if err != nil {
		// Stage-1 failure suppresses escalation: inconclusive, no incident.
		e.degraded.Add(1)
		analysis.ClassifierDegraded = true
		analysis.Narrative = "short-stage classification unavailable"
		e.logger.Warn("short-stage classifier failed",
			zap.String("client", client),
			zap.String("source", source),
			zap.Error(err))
		return analysis, nil
	}

	if !shortRes.Detected {
		// SHORT_ANALYSIS -> IDLE.
		analysis.Narrative = shortRes.Narrative
		return analysis, nil
	}
	e.detected.Add(1)

	// SHORT_ANALYSIS -> LONG_ANALYSIS. The long window is recaptured fresh
	// at confirmation time, deliberately: it picks up whatever happened
	// right after detection, so it is a temporal superset, not necessarily
	// the same frames.
	analysis.Stage = StageLong
	longFrames, err := e.buffers.SnapshotWindow(client, source, e.cfg.LongWindow)
	if err != nil {
		return analysis, err
	}
	analysis.LongFrames = len(longFrames)

	longSampled := classify.SampleFrames(payloads(longFrames), e.cfg.MaxClassifierFrames)
	longRes, err := classify.WithTimeout(ctx, e.classifier, e.cfg.StageTimeout,
		longSampled, classify.LongWindowPrompt(int(e.cfg.LongWindow.Seconds()), shortRes.IncidentType))
	if err != nil {
		// Stage-2 failure degrades to the stage-1 decision, unconfirmed.
		e.degraded.Add(1)
		analysis.ClassifierDegraded = true
		analysis.Detected = true
		analysis.IncidentType = shortRes.IncidentType
		analysis.RiskLevel = riskLevelFor(shortRes.IncidentType)
		analysis.Narrative = shortRes.Narrative
		analysis.Confirmed = nil
		e.logger.Warn("long-stage classifier failed, using short-stage verdict",
			zap.String("client", client),
			zap.String("source", source),
			zap.Error(err))
		return analysis, nil
	}

	if !longRes.Detected {
		// LONG_ANALYSIS -> VETOED. The long-window verdict has final say.
		e.vetoed.Add(1)
		analysis.Detected = false
		analysis.Vetoed = true
		analysis.Confirmed = boolPtr(false)
		analysis.IncidentType = shortRes.IncidentType
		analysis.Narrative = longRes.Narrative
		e.logger.Info("incident vetoed at confirmation stage",
			zap.String("client", client),
			zap.String("source", source),
			zap.String("short_stage_type", shortRes.IncidentType))
		return analysis, nil
	}

	// LONG_ANALYSIS -> CONFIRMED.
	e.confirmed.Add(1)
	analysis.Detected = true
	analysis.Confirmed = boolPtr(true)
	analysis.IncidentType = longRes.IncidentType
	if analysis.IncidentType == "" {
		analysis.IncidentType = shortRes.IncidentType
	}
	analysis.RiskLevel = riskLevelFor(analysis.IncidentType)
	analysis.Narrative = longRes.Narrative
	e.logger.Info("incident confirmed",
		zap.String("client", client),
		zap.String("source", source),
		zap.String("incident_type", analysis.IncidentType),
		zap.String("risk_level", string(analysis.RiskLevel)))
	return analysis, nil
}

// AnalyzeBatch runs every source (all active sources when none are given)
// and aggregates the results. The summary is computed only after the last
// per-source analysis finishes.
func (e *Engine) AnalyzeBatch(ctx context.Context, client string, sources []string) ([]IncidentAnalysis, BatchSummary, error) {
	if len(sources) == 0 {
		sources = e.buffers.ListSources(client)
	}
	if len(sources) == 0 {
		return nil, BatchSummary{}, errors.New("no active sources for client")
	}

	results := make([]IncidentAnalysis, len(sources))
	errs := make([]error, len(sources))

	if e.cfg.MaxParallel > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.MaxParallel)
		for i, src := range sources {
			g.Go(func() error {
				results[i], errs[i] = e.AnalyzeSource(gctx, client, src)
				// Per-source errors are absorbed into the summary.
				return nil
			})
		}
		// Join barrier: the aggregate below only runs once all are done.
		_ = g.Wait()
	} else {
		for i, src := range sources {
			results[i], errs[i] = e.AnalyzeSource(ctx, client, src)
		}
	}

	var summary BatchSummary
	out := make([]IncidentAnalysis, 0, len(sources))
	for i := range results {
		if errs[i] != nil {
			summary.Errors++
			continue
		}
		summary.Analyzed++
		a := results[i]
		if a.Detected || a.Vetoed {
			summary.Detected++
		}
		if a.Confirmed != nil && *a.Confirmed {
			summary.Confirmed++
		}
		if a.Vetoed {
			summary.Vetoed++
		}
		out = append(out, a)
	}
	return out, summary, nil
}

// EvidenceWindow returns a fresh long-window snapshot for assembling the
// evidence video of a confirmed incident.
func (e *Engine) EvidenceWindow(client, source string) ([]framebuf.Frame, error) {
	return e.buffers.SnapshotWindow(client, source, e.cfg.LongWindow)
}

// Metrics returns engine counters.
func (e *Engine) Metrics() map[string]any {
	return map[string]any{
		"analyses":  e.analyses.Load(),
		"detected":  e.detected.Load(),
		"confirmed": e.confirmed.Load(),
		"vetoed":    e.vetoed.Load(),
		"degraded":  e.degraded.Load(),
	}
}

func payloads(frames []framebuf.Frame) [][]byte {
	out := make([][]byte, len(frames))
	for i := range frames {
		out[i] = frames[i].Payload
	}
	return out
}
