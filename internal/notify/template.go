package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/mikeyg42/sentryvision/internal/escalate"
	"github.com/mikeyg42/sentryvision/internal/evidence"
)

// Alert is everything the dispatcher needs to compose a notification.
type Alert struct {
	Analysis escalate.IncidentAnalysis
	// SystemName appears in the subject and footer.
	SystemName string
}

// alertData feeds both templates.
type alertData struct {
	AlertID      string
	Client       string
	Source       string
	IncidentType string
	RiskLevel    string
	Narrative    string
	Confirmed    string
	DetectedAt   string
	SystemName   string

	HasVideo     bool
	VideoURL     string
	VideoExpires string
	VideoNote    string
}

const textAlertTemplate = `SECURITY ALERT {{.AlertID}}

Incident:   {{.IncidentType}}
Risk:       {{.RiskLevel}}
Client:     {{.Client}}
Camera:     {{.Source}}
Detected:   {{.DetectedAt}}
Confirmed:  {{.Confirmed}}

{{.Narrative}}
{{if .HasVideo}}
Evidence video (link expires {{.VideoExpires}}):
{{.VideoURL}}
{{else if .VideoNote}}
Evidence video: {{.VideoNote}}
{{end}}
--
{{.SystemName}} automated alert. Do not reply.
`

const htmlAlertTemplate = `<!DOCTYPE html>
<html><body style="font-family:Helvetica,Arial,sans-serif;color:#1a1a1a">
<h2 style="color:#b00020">Security Alert</h2>
<table cellpadding="4">
<tr><td><b>Incident</b></td><td>{{.IncidentType}}</td></tr>
<tr><td><b>Risk</b></td><td>{{.RiskLevel}}</td></tr>
<tr><td><b>Client</b></td><td>{{.Client}}</td></tr>
<tr><td><b>Camera</b></td><td>{{.Source}}</td></tr>
<tr><td><b>Detected</b></td><td>{{.DetectedAt}}</td></tr>
<tr><td><b>Confirmed</b></td><td>{{.Confirmed}}</td></tr>
</table>
<p>{{.Narrative}}</p>
{{if .HasVideo}}
<p><a href="{{.VideoURL}}">View evidence video</a> (expires {{.VideoExpires}})</p>
{{else if .VideoNote}}
<p><i>Evidence video: {{.VideoNote}}</i></p>
{{end}}
<hr><p style="font-size:12px;color:#777">{{.SystemName}} automated alert {{.AlertID}}. Do not reply.</p>
</body></html>
`

var (
	textTmpl = texttemplate.Must(texttemplate.New("alert_text").Parse(textAlertTemplate))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("alert_html").Parse(htmlAlertTemplate))
)

// composeMessage renders the full alert. link may be nil (no evidence);
// videoNote explains a missing link (assembly or upload failure).
func composeMessage(alert Alert, from, fromName, to string, link *evidence.Link, videoNote string) (*Message, error) {
	a := alert.Analysis
	data := alertData{
		AlertID:      a.AlertID,
		Client:       a.Client,
		Source:       a.Source,
		IncidentType: orUnknown(a.IncidentType),
		RiskLevel:    string(a.RiskLevel),
		Narrative:    a.Narrative,
		Confirmed:    confirmedLabel(a),
		DetectedAt:   a.AnalyzedAt.Format(time.RFC1123),
		SystemName:   orDefault(alert.SystemName, "SentryVision"),
		VideoNote:    videoNote,
	}
	if link != nil {
		data.HasVideo = true
		data.VideoURL = link.SignedURL
		data.VideoExpires = link.ExpiresAt.Format(time.RFC1123)
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	subject := fmt.Sprintf("[%s] %s incident — %s / %s",
		data.RiskLevel, data.IncidentType, a.Client, a.Source)

	return &Message{
		From:     from,
		FromName: fromName,
		To:       to,
		Subject:  subject,
		TextBody: text.String(),
		HTMLBody: html.String(),
		AlertID:  a.AlertID,
	}, nil
}

// fallbackMessage strips a composed message to its text part. Same
// identifying details, no HTML, no binary weight.
func fallbackMessage(msg *Message) *Message {
	cp := *msg
	cp.HTMLBody = ""
	cp.Subject = strings.TrimSpace(msg.Subject) + " (text-only)"
	return &cp
}

func confirmedLabel(a escalate.IncidentAnalysis) string {
	switch {
	case a.Confirmed == nil:
		return "unconfirmed (confirmation stage unavailable)"
	case *a.Confirmed:
		return "yes"
	default:
		return "no (vetoed)"
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
