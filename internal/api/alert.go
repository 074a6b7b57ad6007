package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/audit"
	"github.com/mikeyg42/sentryvision/internal/escalate"
	"github.com/mikeyg42/sentryvision/internal/framebuf"
	"github.com/mikeyg42/sentryvision/internal/notify"
	"github.com/mikeyg42/sentryvision/internal/videoproc"
)

// VideoProducer turns buffered frames into an upload-ready file.
type VideoProducer interface {
	Produce(frames []framebuf.Frame) (*videoproc.EvidenceFile, error)
}

// AlertSender delivers a composed alert and reports what happened.
type AlertSender interface {
	Deliver(ctx context.Context, alert notify.Alert, ev *videoproc.EvidenceFile, evidenceNote string) notify.DeliveryReport
}

// FileReleaser frees a tracked evidence file once it has been used.
type FileReleaser interface {
	Release(path string)
}

type alertRequest struct {
	ClientID string `json:"client_id"`
	SourceID string `json:"source_id"`
}

type alertResponse struct {
	Analysis  escalate.IncidentAnalysis `json:"analysis"`
	AlertSent bool                      `json:"alert_sent"`
	Delivery  *notify.DeliveryReport    `json:"delivery,omitempty"`
}

// AlertHandler runs the full escalation for one source: analyze,
// assemble evidence, deliver, audit. Vetoed or clean verdicts produce
// no alert.
type AlertHandler struct {
	engine     Analyzer
	video      VideoProducer
	dispatcher AlertSender
	releaser   FileReleaser
	audit      *audit.Store
	systemName string
	logger     *zap.Logger
}

func NewAlertHandler(engine Analyzer, video VideoProducer, dispatcher AlertSender, releaser FileReleaser, auditStore *audit.Store, systemName string) *AlertHandler {
	return &AlertHandler{
		engine:     engine,
		video:      video,
		dispatcher: dispatcher,
		releaser:   releaser,
		audit:      auditStore,
		systemName: systemName,
		logger:     zap.L().Named("api-alert"),
	}
}

func (h *AlertHandler) RegisterRoutes(mux *http.ServeMux, rl *RateLimiter) {
	mux.HandleFunc("/api/v1/alert", rl.Middleware(h.handleAlert))
}

func (h *AlertHandler) handleAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ClientID == "" || req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "client_id and source_id are required")
		return
	}

	analysis, err := h.engine.AnalyzeSource(r.Context(), req.ClientID, req.SourceID)
	if err != nil {
		if errors.Is(err, framebuf.ErrUnknownSource) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.audit.RecordAnalysis(r.Context(), analysis); err != nil {
		h.logger.Warn("audit write failed", zap.String("alert_id", analysis.AlertID), zap.Error(err))
	}

	if !analysis.Detected {
		writeJSON(w, http.StatusOK, alertResponse{Analysis: analysis})
		return
	}

	ev, note := h.buildEvidence(req.ClientID, req.SourceID)
	if ev != nil {
		defer h.releaser.Release(ev.Path)
	}

	rep := h.dispatcher.Deliver(r.Context(), notify.Alert{
		Analysis:   analysis,
		SystemName: h.systemName,
	}, ev, note)

	if err := h.audit.RecordDelivery(r.Context(), analysis.AlertID, rep); err != nil {
		h.logger.Warn("delivery audit write failed", zap.String("alert_id", analysis.AlertID), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, alertResponse{
		Analysis:  analysis,
		AlertSent: true,
		Delivery:  &rep,
	})
}

// buildEvidence assembles the evidence video for the source. Any
// failure degrades to a video-less alert with an explanatory note.
func (h *AlertHandler) buildEvidence(client, source string) (*videoproc.EvidenceFile, string) {
	frames, err := h.engine.EvidenceWindow(client, source)
	if err != nil {
		h.logger.Warn("evidence window unavailable",
			zap.String("client", client), zap.String("source", source), zap.Error(err))
		return nil, "evidence frames unavailable: " + err.Error()
	}
	ev, err := h.video.Produce(frames)
	if err != nil {
		h.logger.Warn("evidence video production failed",
			zap.String("client", client), zap.String("source", source), zap.Error(err))
		return nil, "evidence video unavailable: " + err.Error()
	}
	return ev, ""
}
