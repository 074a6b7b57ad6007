package classify

import "fmt"

const promptPreamble = `You are a security monitoring assistant reviewing ` +
	`consecutive frames from a retail surveillance camera. The frames are ` +
	`in chronological order and span roughly %d seconds.`

const promptVerdictFormat = `Respond with a single JSON object, no prose ` +
	`around it: {"detected": bool, "incident_type": string, ` +
	`"description": string, "narrative": string}. incident_type is one of ` +
	`theft, weapon, intrusion, vandalism, suspicious_activity, none.`

// ShortWindowPrompt asks for a fast first-pass verdict on a few seconds of
// footage.
func ShortWindowPrompt(windowSeconds int) string {
	return fmt.Sprintf(promptPreamble, windowSeconds) +
		` Decide quickly whether these frames show a security incident in ` +
		`progress (theft, concealment of merchandise, forced entry, weapon, ` +
		`vandalism). ` + promptVerdictFormat
}

// LongWindowPrompt asks for a careful confirmation pass over the full
// buffered window, including anything that happened after first detection.
func LongWindowPrompt(windowSeconds int, priorType string) string {
	p := fmt.Sprintf(promptPreamble, windowSeconds) +
		` A preliminary scan flagged a possible incident`
	if priorType != "" {
		p += fmt.Sprintf(` of type %q`, priorType)
	}
	p += `. Review the full sequence carefully and decide whether a real ` +
		`security incident occurred. If the flagged behavior turns out to ` +
		`be innocuous (normal shopping, staff restocking, paying at the ` +
		`register), report detected=false. ` + promptVerdictFormat
	return p
}
