package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultSendQueue    = 64
	defaultWriteTimeout = 5 * time.Second
	maxMessageSize      = 64 * 1024
)

// WSConn gorilla websocket 连接
//
// Send 只入队；写协程负责实际写出（带写超时）。
type WSConn struct {
	ws           *websocket.Conn
	send         chan models.Envelope
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	remoteAddr   string
}

// NewWSConn 包装已升级的 websocket 连接并启动写协程
func NewWSConn(ws *websocket.Conn, remoteAddr string, queueSize int, writeTimeout time.Duration) *WSConn {
	if queueSize <= 0 {
		queueSize = defaultSendQueue
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	c := &WSConn{
		ws:           ws,
		send:         make(chan models.Envelope, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		remoteAddr:   remoteAddr,
	}
	go c.writePump()
	return c
}

func (c *WSConn) Send(env models.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *WSConn) Ping() error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *WSConn) RemoteAddr() string { return c.remoteAddr }

// Done 连接关闭后被关闭
func (c *WSConn) Done() <-chan struct{} { return c.done }

func (c *WSConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// clientFrame 客户端上行消息
type clientFrame struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// WSHandler 将 HTTP 请求升级为 websocket 并接入 Hub
type WSHandler struct {
	hub          *Hub
	upgrader     websocket.Upgrader
	queueSize    int
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewWSHandler 创建 websocket 接入处理器
func NewWSHandler(h *Hub, queueSize int, writeTimeout time.Duration, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
		},
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ServeHTTP 升级连接，注册到 Hub，并在当前协程运行读循环直到断开
func (wh *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := wh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wh.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewWSConn(ws, r.RemoteAddr, wh.queueSize, wh.writeTimeout)

	var id string
	wh.hub.Handle(Connected{Conn: conn, Registered: func(cid string) { id = cid }})
	if id == "" {
		return
	}
	defer func() {
		wh.hub.Handle(Disconnected{ID: id})
		_ = conn.Close()
	}()

	_ = wh.hub.SendTo(id, models.ChannelConnection, map[string]string{
		"message":  "Connected to Be My Eyes WebSocket Server",
		"clientId": id,
	})

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		wh.hub.Handle(Pong{ID: id})
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wh.logger.Debug("Websocket read error", zap.String("client_id", id), zap.Error(err))
			}
			return
		}
		wh.handleClientFrame(id, data)
	}
}

func (wh *WSHandler) handleClientFrame(id string, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		wh.logger.Debug("Invalid client message", zap.String("client_id", id), zap.Error(err))
		_ = wh.hub.SendTo(id, models.ChannelError, map[string]string{"message": "Invalid JSON format"})
		return
	}

	switch frame.Channel {
	case models.ChannelClientLocation:
		// 转发给其他客户端（不落库）
		wh.hub.Publish(models.ChannelLocationUpdate, []json.RawMessage{frame.Payload}, id)
	default:
		_ = wh.hub.SendTo(id, models.ChannelEcho, map[string]interface{}{
			"message":         "Message received",
			"originalMessage": frame,
		})
	}
}
