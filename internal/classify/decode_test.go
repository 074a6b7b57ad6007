package classify

import "testing"

func TestDecodeStructured(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		detected bool
		incType  string
	}{
		{
			"plain json positive",
			`{"detected": true, "incident_type": "theft", "description": "concealed item", "narrative": "subject pockets merchandise"}`,
			true, "theft",
		},
		{
			"plain json negative",
			`{"detected": false, "incident_type": "none", "description": "", "narrative": "normal shopping"}`,
			false, "none",
		},
		{
			"fenced json",
			"```json\n{\"detected\": true, \"incident_type\": \"intrusion\"}\n```",
			true, "intrusion",
		},
		{
			"alternate verdict key",
			`{"has_security_incident": true, "type": "vandalism"}`,
			true, "vandalism",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := DecodeResponse(tc.raw)
			if res.Mode != ModeStructured {
				t.Fatalf("expected structured decode, got %s", res.Mode)
			}
			if res.Detected != tc.detected {
				t.Fatalf("detected = %v, want %v", res.Detected, tc.detected)
			}
			if res.IncidentType != tc.incType {
				t.Fatalf("incident_type = %q, want %q", res.IncidentType, tc.incType)
			}
		})
	}
}

func TestDecodeHeuristicFallback(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		detected bool
	}{
		{"affirmative prose", "There appears to be a security incident: a person is concealing items.", true},
		{"shoplifting mention", "Frame 12 onward shows shoplifting behavior near aisle 3.", true},
		{"negative prose", "I reviewed all frames. No security incident observed.", false},
		{"negation wins over keyword", "No suspicious activity; the person paid at the register.", false},
		{"empty-ish text", "The footage is too dark to tell.", false},
		{"broken json falls through", `{"detected": tru`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := DecodeResponse(tc.raw)
			if res.Mode != ModeHeuristicText {
				t.Fatalf("expected heuristic decode, got %s", res.Mode)
			}
			if res.Detected != tc.detected {
				t.Fatalf("detected = %v, want %v", res.Detected, tc.detected)
			}
		})
	}
}

func TestDecodeHeuristicTypeGuess(t *testing.T) {
	res := DecodeResponse("Shoplifting detected: subject hides a bottle in their jacket.")
	if !res.Detected {
		t.Fatal("expected detection")
	}
	if res.IncidentType != "theft" {
		t.Fatalf("expected theft, got %q", res.IncidentType)
	}
}

func TestJSONWithoutVerdictFallsBack(t *testing.T) {
	// Valid JSON but no verdict field: must not be trusted as structured.
	res := DecodeResponse(`{"comment": "security incident maybe"}`)
	if res.Mode != ModeHeuristicText {
		t.Fatalf("expected heuristic decode, got %s", res.Mode)
	}
	if !res.Detected {
		t.Fatal("heuristic scan should still flag the marker text")
	}
}

func TestSampleFrames(t *testing.T) {
	frames := make([][]byte, 100)
	for i := range frames {
		frames[i] = []byte{byte(i)}
	}

	sampled := SampleFrames(frames, 25)
	if len(sampled) != 25 {
		t.Fatalf("expected 25 frames, got %d", len(sampled))
	}
	if sampled[0][0] != 0 {
		t.Fatalf("sampling should start at the window head, got frame %d", sampled[0][0])
	}
	// Strided, not front-loaded: the last sample comes from the tail.
	if sampled[24][0] != 96 {
		t.Fatalf("expected last sample from frame 96, got %d", sampled[24][0])
	}

	// Under the limit: unchanged.
	small := SampleFrames(frames[:10], 25)
	if len(small) != 10 {
		t.Fatalf("expected passthrough of 10 frames, got %d", len(small))
	}
}
