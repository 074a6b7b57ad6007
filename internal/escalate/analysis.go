// Package escalate runs the two-stage detect/confirm protocol over
// buffered frame windows. Stage 1 is a fast scan of the short window;
// a positive result escalates to a careful pass over the long window,
// whose verdict is final. The system never alerts on a short-stage-only
// positive.
package escalate

import "time"

// Stage identifies which analysis window produced a verdict.
type Stage string

const (
	StageShort Stage = "short"
	StageLong  Stage = "long"
)

// RiskLevel buckets incident types for alert prioritization.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// IncidentAnalysis is the immutable outcome of one source's escalation
// run. Confirmed is nil when stage 2 never ran or failed (the stage-1
// decision stands unconfirmed), true on confirmation, false on veto.
type IncidentAnalysis struct {
	AlertID      string    `json:"alert_id"`
	Client       string    `json:"client"`
	Source       string    `json:"source"`
	Detected     bool      `json:"detected"`
	IncidentType string    `json:"incident_type,omitempty"`
	RiskLevel    RiskLevel `json:"risk_level"`
	Narrative    string    `json:"narrative,omitempty"`
	Stage        Stage     `json:"stage"`
	Confirmed    *bool     `json:"confirmed"`
	Vetoed       bool      `json:"vetoed"`

	ShortFrames int       `json:"short_frames"`
	LongFrames  int       `json:"long_frames"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
	// ClassifierDegraded is set when a stage failed and the result is
	// inconclusive rather than a real verdict.
	ClassifierDegraded bool `json:"classifier_degraded,omitempty"`
}

// BatchSummary aggregates a multi-source analysis run. It is computed
// only after every per-source result is in.
type BatchSummary struct {
	Analyzed  int `json:"analyzed"`
	Detected  int `json:"detected"`
	Confirmed int `json:"confirmed"`
	Vetoed    int `json:"vetoed"`
	Errors    int `json:"errors"`
}

// riskLevelFor maps incident types onto alert priorities.
func riskLevelFor(incidentType string) RiskLevel {
	switch incidentType {
	case "weapon", "violence", "assault":
		return RiskHigh
	case "theft", "intrusion", "break-in", "vandalism":
		return RiskMedium
	default:
		return RiskLow
	}
}

func boolPtr(b bool) *bool { return &b }
