package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"wfo/internal/logger"
	"wfo/internal/strategy/optimizer"
)

const (
	EventWindow   = "window"
	EventFinished = "finished"

	streamBuffer = 64

	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// StreamEvent is one message on a run stream
type StreamEvent struct {
	Type   string                  `json:"type"`
	RunID  string                  `json:"run_id"`
	Window *optimizer.WindowResult `json:"window,omitempty"`
	Run    *Run                    `json:"run,omitempty"` // 仅 finished 事件，不含报告
	Time   time.Time               `json:"time"`
}

func finishedEvent(run Run) StreamEvent {
	run.Report = nil
	return StreamEvent{Type: EventFinished, RunID: run.ID, Run: &run, Time: time.Now().UTC()}
}

// StreamHandler pushes run progress over WebSocket
type StreamHandler struct {
	service  *RunService
	upgrader websocket.Upgrader
	log      logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(service *RunService, upgrader websocket.Upgrader, log logger.Logger) *StreamHandler {
	return &StreamHandler{service: service, upgrader: upgrader, log: log}
}

// Stream sends one JSON message per completed window, then the finished
// event, then closes the connection.
func (h *StreamHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	events, unsubscribe, err := h.service.Subscribe(id)
	if err != nil {
		c.Error(err)
		return
	}
	defer unsubscribe()

	// Upgrade 失败时已写入 HTTP 错误
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "run_id", id, "error", err)
		return
	}
	defer conn.Close()
	log := h.log.WithField("run_id", id)
	log.Debug("Stream opened")

	// 读循环只处理控制帧，客户端断开时结束
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("Stream read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("Stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug("Stream closed by client")
			return
		}
	}
}
