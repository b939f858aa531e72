package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	realtimeFrameSnapshot = "snapshot"
	realtimeFrameEvent    = "event"

	realtimeHeartbeatInterval = 30 * time.Second
	realtimeWriteTimeout      = 10 * time.Second
)

// lockEventFrame is one websocket message. The first frame on a stream is a
// snapshot of the current lock; every later frame carries a lock event.
type lockEventFrame struct {
	Type   string       `json:"type"`
	Locked bool         `json:"locked"`
	Lock   *locks.Lock  `json:"lock,omitempty"`
	Event  *locks.Event `json:"event,omitempty"`
}

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	origins := normalizeOrigins(allowedOrigins)
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || slices.Contains(origins, origin)
		},
	}
}

func (h *httpHandler) handleLockEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "events_unavailable"})
		return
	}
	canvasKey, err := canvas.NewCanvasID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	lock, live, err := h.locks.Status(c.Request.Context(), canvasKey.String())
	if err != nil {
		h.writeLockError(c, "status", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("lock event upgrade failed", zap.String("canvas_id", canvasKey.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, cleanup := h.events.Subscribe(ctx, canvasKey.String())
	defer cleanup()

	// Client frames are ignored; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	snapshot := lockEventFrame{Type: realtimeFrameSnapshot, Locked: live}
	if live {
		snapshot.Lock = &lock
	}
	if err := writeFrame(conn, snapshot); err != nil {
		return
	}

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(realtimeWriteTimeout))
			return
		case event := <-stream:
			frame := lockEventFrame{Type: realtimeFrameEvent, Locked: event.Type == locks.EventAcquired || event.Type == locks.EventRefreshed, Event: &event}
			if err := writeFrame(conn, frame); err != nil {
				h.logger.Debug("lock event stream closed", zap.String("canvas_id", canvasKey.String()), zap.Error(err))
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(realtimeWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame lockEventFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
