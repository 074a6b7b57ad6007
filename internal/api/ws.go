package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/framebuf"
)

const (
	wsReadLimit  = 8 << 20
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// StreamHandler ingests frames over a websocket. Each binary message is
// one encoded image; sequence numbers are assigned per connection and
// capture time is receipt time. Invalid frames are reported back as
// text messages without closing the stream.
type StreamHandler struct {
	buffers  *framebuf.Store
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewStreamHandler(buffers *framebuf.Store) *StreamHandler {
	return &StreamHandler{
		buffers: buffers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 4 << 10,
		},
		logger: zap.L().Named("api-stream"),
	}
}

func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/stream", h.handleStream)
}

func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	client := r.URL.Query().Get("client_id")
	source := r.URL.Query().Get("source_id")
	if client == "" || source == "" {
		writeError(w, http.StatusBadRequest, "client_id and source_id query parameters are required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, done)

	h.logger.Info("stream opened",
		zap.String("client", client), zap.String("source", source))

	var seq uint64
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("stream closed unexpectedly",
					zap.String("client", client), zap.String("source", source), zap.Error(err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := h.buffers.Append(client, source, payload, seq, time.Now()); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			continue
		}
		seq++
	}
}

func (h *StreamHandler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
