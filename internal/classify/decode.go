package classify

import (
	"encoding/json"
	"strings"
)

// structuredVerdict mirrors the JSON shape the model is prompted to return.
// Alternate field names are accepted because models drift on key naming.
type structuredVerdict struct {
	Detected            *bool  `json:"detected"`
	HasSecurityIncident *bool  `json:"has_security_incident"`
	IncidentType        string `json:"incident_type"`
	Type                string `json:"type"`
	Description         string `json:"description"`
	Narrative           string `json:"narrative"`
	Summary             string `json:"summary"`
}

// DecodeResponse turns raw model output into a Result. It first attempts a
// structured JSON decode (tolerating markdown code fences); if that fails
// it falls back to scanning the text for detection markers rather than
// failing the whole request.
func DecodeResponse(raw string) Result {
	if v, ok := decodeStructured(raw); ok {
		return v
	}
	return decodeHeuristic(raw)
}

func decodeStructured(raw string) (Result, bool) {
	body := stripCodeFence(strings.TrimSpace(raw))

	var v structuredVerdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return Result{}, false
	}

	detected, ok := verdictFlag(&v)
	if !ok {
		// Valid JSON but no verdict field; treat as unstructured.
		return Result{}, false
	}

	res := Result{
		Detected:     detected,
		IncidentType: v.IncidentType,
		Description:  v.Description,
		Narrative:    v.Narrative,
		Mode:         ModeStructured,
		RawResponse:  raw,
	}
	if res.IncidentType == "" {
		res.IncidentType = v.Type
	}
	if res.Narrative == "" {
		res.Narrative = v.Summary
	}
	return res, true
}

func verdictFlag(v *structuredVerdict) (bool, bool) {
	if v.Detected != nil {
		return *v.Detected, true
	}
	if v.HasSecurityIncident != nil {
		return *v.HasSecurityIncident, true
	}
	return false, false
}

// stripCodeFence removes a surrounding ```json ... ``` (or bare ```) fence.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

var negativeMarkers = []string{
	"no security incident",
	"no incident",
	"nothing suspicious",
	"no suspicious activity",
	"\"detected\": false",
	"detected: false",
	"not detected",
}

var affirmativeMarkers = []string{
	"\"detected\": true",
	"detected: true",
	"incident detected",
	"security incident",
	"suspicious activity",
	"theft in progress",
	"shoplifting",
	"break-in",
	"intruder",
}

// decodeHeuristic scans raw text for detection markers. Negative markers
// win over affirmative ones so "no security incident observed" is not read
// as a positive.
func decodeHeuristic(raw string) Result {
	lower := strings.ToLower(raw)

	res := Result{
		Mode:        ModeHeuristicText,
		Narrative:   strings.TrimSpace(raw),
		RawResponse: raw,
	}

	for _, m := range negativeMarkers {
		if strings.Contains(lower, m) {
			return res
		}
	}
	for _, m := range affirmativeMarkers {
		if strings.Contains(lower, m) {
			res.Detected = true
			res.IncidentType = guessIncidentType(lower)
			return res
		}
	}
	return res
}

func guessIncidentType(lower string) string {
	switch {
	case strings.Contains(lower, "shoplift") || strings.Contains(lower, "theft") || strings.Contains(lower, "steal"):
		return "theft"
	case strings.Contains(lower, "weapon") || strings.Contains(lower, "gun") || strings.Contains(lower, "knife"):
		return "weapon"
	case strings.Contains(lower, "break-in") || strings.Contains(lower, "intruder") || strings.Contains(lower, "trespass"):
		return "intrusion"
	case strings.Contains(lower, "vandal"):
		return "vandalism"
	default:
		return "suspicious_activity"
	}
}
