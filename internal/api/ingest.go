package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/framebuf"
)

const maxFrameBodyBytes = 16 << 20 // one frame or batch request body

// frameRequest is one submitted frame. Payload is base64-encoded image
// bytes; CapturedAt defaults to receipt time when omitted.
type frameRequest struct {
	ClientID   string    `json:"client_id"`
	SourceID   string    `json:"source_id"`
	Sequence   uint64    `json:"sequence"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    string    `json:"payload"`
}

type ingestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// IngestHandler feeds submitted frames into the buffer store.
type IngestHandler struct {
	buffers *framebuf.Store
	logger  *zap.Logger
}

func NewIngestHandler(buffers *framebuf.Store) *IngestHandler {
	return &IngestHandler{
		buffers: buffers,
		logger:  zap.L().Named("api-ingest"),
	}
}

func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux, rl *RateLimiter) {
	mux.HandleFunc("/api/v1/frame", rl.Middleware(h.handleFrame))
	mux.HandleFunc("/api/v1/frames/batch", rl.Middleware(h.handleBatch))
}

func (h *IngestHandler) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req frameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.ingestOne(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: 1})
}

func (h *IngestHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var reqs []frameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBodyBytes)).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}

	resp := ingestResponse{}
	for _, req := range reqs {
		if err := h.ingestOne(req); err != nil {
			resp.Rejected++
			h.logger.Debug("batch frame rejected",
				zap.String("client", req.ClientID),
				zap.String("source", req.SourceID),
				zap.Uint64("seq", req.Sequence),
				zap.Error(err))
			continue
		}
		resp.Accepted++
	}
	status := http.StatusAccepted
	if resp.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (h *IngestHandler) ingestOne(req frameRequest) error {
	if req.ClientID == "" || req.SourceID == "" {
		return errors.New("client_id and source_id are required")
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return errors.New("payload is not valid base64")
	}
	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	return h.buffers.Append(req.ClientID, req.SourceID, payload, req.Sequence, capturedAt)
}
