package escalate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mikeyg42/sentryvision/internal/classify"
	"github.com/mikeyg42/sentryvision/internal/framebuf"
)

// scriptedClassifier replays canned results (or errors) per call, in
// order, and records what it was asked.
type scriptedClassifier struct {
	mu      sync.Mutex
	script  []func(frames [][]byte) (classify.Result, error)
	calls   int
	frameNs []int
}

func (s *scriptedClassifier) Classify(_ context.Context, frames [][]byte, _ string) (classify.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameNs = append(s.frameNs, len(frames))
	if s.calls >= len(s.script) {
		return classify.Result{}, errors.New("unexpected classifier call")
	}
	fn := s.script[s.calls]
	s.calls++
	return fn(frames)
}

func positive(incidentType string) func([][]byte) (classify.Result, error) {
	return func([][]byte) (classify.Result, error) {
		return classify.Result{Detected: true, IncidentType: incidentType, Mode: classify.ModeStructured}, nil
	}
}

func negative() func([][]byte) (classify.Result, error) {
	return func([][]byte) (classify.Result, error) {
		return classify.Result{Detected: false, Mode: classify.ModeStructured}, nil
	}
}

func failing() func([][]byte) (classify.Result, error) {
	return func([][]byte) (classify.Result, error) {
		return classify.Result{}, errors.New("model unreachable")
	}
}

func jpegPayload(seq uint64) []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, byte(seq), byte(seq >> 8)}
}

func newBuffers(t *testing.T, frames int) *framebuf.Store {
	t.Helper()
	s := framebuf.NewStore(framebuf.StoreConfig{
		LongWindow: 10 * time.Second,
		TargetFPS:  25,
	})
	t.Cleanup(s.Close)
	for seq := uint64(0); seq < uint64(frames); seq++ {
		if err := s.Append("client-a", "cam-1", jpegPayload(seq), seq, time.Now()); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	return s
}

func TestNoIncidentStaysIdle(t *testing.T) {
	sc := &scriptedClassifier{script: []func([][]byte) (classify.Result, error){negative()}}
	eng := NewEngine(newBuffers(t, 100), sc, Config{})

	a, err := eng.AnalyzeSource(context.Background(), "client-a", "cam-1")
	if err != nil {
		t.Fatalf("AnalyzeSource failed: %v", err)
	}
	if a.Detected {
		t.Fatal("expected no detection")
	}
	if a.Stage != StageShort {
		t.Fatalf("expected short stage, got %s", a.Stage)
	}
	if sc.calls != 1 {
		t.Fatalf("expected 1 classifier call, got %d", sc.calls)
	}
	if a.Confirmed != nil {
		t.Fatal("confirmed must be nil when stage 2 never ran")
	}
}

func TestConfirmedIncident(t *testing.T) {
	sc := &scriptedClassifier{script: []func([][]byte) (classify.Result, error){
		positive("theft"),
		positive("theft"),
	}}
	eng := NewEngine(newBuffers(t, 300), sc, Config{})

	a, err := eng.AnalyzeSource(context.Background(), "client-a", "cam-1")
	if err != nil {
		t.Fatalf("AnalyzeSource failed: %v", err)
	}
	if !a.Detected {
		t.Fatal("expected detection")
	}
	if a.Confirmed == nil || !*a.Confirmed {
		t.Fatal("expected confirmed=true")
	}
	if a.Stage != StageLong {
		t.Fatalf("expected long stage, got %s", a.Stage)
	}
	if a.RiskLevel != RiskMedium {
		t.Fatalf("theft should map to MEDIUM risk, got %s", a.RiskLevel)
	}
	if a.Vetoed {
		t.Fatal("confirmed incident must not be vetoed")
	}
}

func TestVetoPrecedence(t *testing.T) {
	// Stage 1 positive, stage 2 negative: the veto has final say.
	sc := &scriptedClassifier{script: []func([][]byte) (classify.Result, error){
		positive("shoplifting"),
		negative(),
	}}
	eng := NewEngine(newBuffers(t, 300), sc, Config{})

	a, err := eng.AnalyzeSource(context.Background(), "client-a", "cam-1")
	if err != nil {
		t.Fatalf("AnalyzeSource failed: %v", err)
	}
	if a.Detected {
		t.Fatal("vetoed incident must report detected=false")
	}
	if !a.Vetoed {
		t.Fatal("expected veto flag")
	}
	if a.Confirmed == nil || *a.Confirmed {
		t.Fatal("expected confirmed=false")
	}
	if sc.calls != 2 {
		t.Fatalf("expected both stages to run, got %d calls", sc.calls)
	}
}

func TestStageOneFailureSuppressesEscalation(t *testing.T) {
	sc := &scriptedClassifier{script: []func([][]byte) (classify.Result, error){failing()}}
	eng := NewEngine(newBuffers(t, 100), sc, Config{})

	a, err := eng.AnalyzeSource(context.Background(), "client-a", "cam-1")
	if err != nil {
		t.Fatalf("classifier errors must not surface: %v", err)
	}
	if a.Detected {
		t.Fatal("stage-1 failure must not report an incident")
	}
	if !a.ClassifierDegraded {
		t.Fatal("expected degraded flag")
	}
	if sc.calls != 1 {
		t.Fatalf("stage 2 must not run after stage-1 failure, got %d calls", sc.calls)
	}
}

func TestStageTwoFailureFallsBackToStageOne(t *testing.T) {
	sc := &scriptedClassifier{script: []func([][]byte) (classify.Result, error){
		positive("intrusion"),
		failing(),
	}}
	eng := NewEngine(newBuffers(t, 300), sc, Config{})

	a, err := eng.AnalyzeSource(context.Background(), "client-a", "cam-1")
	if err != nil {
		t.Fatalf("AnalyzeSource failed: %v", err)
	}
	if !a.Detected {
		t.Fatal("stage-2 failure should fall back to the stage-1 positive")
	}
	if a.Confirmed != nil {
		t.Fatal("confirmed must be nil when stage 2 failed")
	}
	if !a.ClassifierDegraded {
		t.Fatal("expected degraded flag")
	}
	if a.IncidentType != "intrusion" {
		t.Fatalf("expected stage-1 incident type, got %q", a.IncidentType)
	}
}

func TestClassifierFrameCap(t *testing.T) {
	sc := &scriptedClassifier{script: []func([][]byte) (classify.Result, error){
		positive("theft"),
		positive("theft"),
	}}
	// 300 appended frames, short window 3s@25fps = 75 buffered, capped at 25.
	eng := NewEngine(newBuffers(t, 300), sc, Config{MaxClassifierFrames: 25})

	if _, err := eng.AnalyzeSource(context.Background(), "client-a", "cam-1"); err != nil {
		t.Fatalf("AnalyzeSource failed: %v", err)
	}
	for i, n := range sc.frameNs {
		if n > 25 {
			t.Fatalf("call %d exceeded the 25-frame classifier cap: %d", i, n)
		}
	}
}

func TestLongWindowDeeperThanShort(t *testing.T) {
	var ns []int
	sc := &scriptedClassifier{script: []func([][]byte) (classify.Result, error){
		positive("theft"),
		positive("theft"),
	}}
	// No cap: the long-window call sees the deeper snapshot.
	eng := NewEngine(newBuffers(t, 300), sc, Config{MaxClassifierFrames: 1000})

	a, err := eng.AnalyzeSource(context.Background(), "client-a", "cam-1")
	if err != nil {
		t.Fatalf("AnalyzeSource failed: %v", err)
	}
	ns = sc.frameNs
	if len(ns) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(ns))
	}
	if ns[1] <= ns[0] {
		t.Fatalf("long window (%d frames) should be deeper than short (%d)", ns[1], ns[0])
	}
	if a.LongFrames != 250 {
		t.Fatalf("expected 250-frame long window, got %d", a.LongFrames)
	}
}

func TestUnknownSourceSurfaces(t *testing.T) {
	sc := &scriptedClassifier{}
	eng := NewEngine(newBuffers(t, 10), sc, Config{})

	if _, err := eng.AnalyzeSource(context.Background(), "client-a", "ghost"); !errors.Is(err, framebuf.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestAnalyzeBatchAggregates(t *testing.T) {
	s := framebuf.NewStore(framebuf.StoreConfig{LongWindow: 10 * time.Second, TargetFPS: 25})
	t.Cleanup(s.Close)
	for _, src := range []string{"cam-1", "cam-2", "cam-3"} {
		for seq := uint64(0); seq < 100; seq++ {
			if err := s.Append("client-a", src, jpegPayload(seq), seq, time.Now()); err != nil {
				t.Fatalf("append failed: %v", err)
			}
		}
	}

	// cam-1: confirmed. cam-2: clean. cam-3: vetoed. Sequential order is
	// deterministic (ListSources sorts).
	sc := &scriptedClassifier{script: []func([][]byte) (classify.Result, error){
		positive("theft"), positive("theft"), // cam-1
		negative(),                       // cam-2
		positive("theft"), negative(),    // cam-3
	}}
	eng := NewEngine(s, sc, Config{})

	results, summary, err := eng.AnalyzeBatch(context.Background(), "client-a", nil)
	if err != nil {
		t.Fatalf("AnalyzeBatch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if summary.Analyzed != 3 {
		t.Fatalf("expected 3 analyzed, got %d", summary.Analyzed)
	}
	if summary.Detected != 2 {
		t.Fatalf("expected 2 detected (one later vetoed), got %d", summary.Detected)
	}
	if summary.Confirmed != 1 {
		t.Fatalf("expected 1 confirmed, got %d", summary.Confirmed)
	}
	if summary.Vetoed != 1 {
		t.Fatalf("expected 1 vetoed, got %d", summary.Vetoed)
	}
}

func TestAnalyzeBatchNoSources(t *testing.T) {
	s := framebuf.NewStore(framebuf.StoreConfig{LongWindow: 10 * time.Second, TargetFPS: 25})
	t.Cleanup(s.Close)
	eng := NewEngine(s, &scriptedClassifier{}, Config{})

	if _, _, err := eng.AnalyzeBatch(context.Background(), "nobody", nil); err == nil {
		t.Fatal("expected error for client with no sources")
	}
}
