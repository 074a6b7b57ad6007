// Package classify is the boundary to the vision classifier service. The
// pipeline treats the model as opaque: it sends an ordered frame sequence
// plus a task prompt and gets back a detection verdict. Responses are not
// trusted to be well-formed; see decode.go.
package classify

import (
	"context"
	"fmt"
	"time"
)

// ResultMode records which decode path produced a Result, so callers and
// tests can tell a structured verdict from a heuristic text scan.
type ResultMode string

const (
	ModeStructured    ResultMode = "structured"
	ModeHeuristicText ResultMode = "heuristic_text"
)

// Result is the classifier's verdict for one frame window.
type Result struct {
	Detected     bool
	IncidentType string
	Description  string
	Narrative    string
	Mode         ResultMode
	// RawResponse keeps the model output for audit and debugging.
	RawResponse string
}

// Classifier is the injected capability the escalation engine calls.
// Implementations must honor ctx deadlines; a timeout surfaces as an
// ordinary error and the engine degrades per stage.
type Classifier interface {
	Classify(ctx context.Context, frames [][]byte, prompt string) (Result, error)
}

// Error wraps a classifier failure with the stage that observed it.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classifier %s stage: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SampleFrames returns at most limit frames, uniformly strided across the
// input so the sampled subset still spans the whole window. The full window
// is kept for evidence assembly; only the classifier request is bounded.
func SampleFrames(frames [][]byte, limit int) [][]byte {
	if limit <= 0 || len(frames) <= limit {
		return frames
	}
	out := make([][]byte, 0, limit)
	stride := float64(len(frames)) / float64(limit)
	for i := 0; i < limit; i++ {
		out = append(out, frames[int(float64(i)*stride)])
	}
	return out
}

// WithTimeout bounds a classifier call without the caller having to manage
// the context directly.
func WithTimeout(ctx context.Context, c Classifier, d time.Duration, frames [][]byte, prompt string) (Result, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return c.Classify(ctx, frames, prompt)
}
