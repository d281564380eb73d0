package hub

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull 发送队列已满（慢客户端）
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn 推送端点（传输层抽象）
//
// Send 不阻塞；Ping 不阻塞或有超时；Close 可重复调用。
type Conn interface {
	Send(env models.Envelope) error
	Ping() error
	Close() error
	RemoteAddr() string
}

type client struct {
	id          string
	conn        Conn
	remoteAddr  string
	connectedAt time.Time
	alive       bool
}

// Options Hub 配置
type Options struct {
	HeartbeatInterval time.Duration
	ThrottleWindow    time.Duration
	Policies          map[string]DeliveryPolicy
	Clock             Clock
}

// DefaultOptions 默认配置：心跳 30s，节流窗口 10s
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		ThrottleWindow:    10 * time.Second,
		Policies:          DefaultChannelPolicies(),
		Clock:             RealClock(),
	}
}

// Hub 连接注册表 + 心跳检测 + 推送分发
//
// 单一互斥锁保护 clients 与所有频道的节流状态。
type Hub struct {
	mu        sync.Mutex
	clients   map[string]*client
	throttles map[string]*throttle
	policies  map[string]DeliveryPolicy
	closed    bool

	heartbeat     time.Duration
	defaultWindow time.Duration
	clock         Clock
	logger        *zap.Logger

	stopLiveness chan struct{}
	wg           sync.WaitGroup
}

// NewHub 创建 Hub
func NewHub(opts Options, logger *zap.Logger) *Hub {
	defaults := DefaultOptions()
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if opts.ThrottleWindow <= 0 {
		opts.ThrottleWindow = defaults.ThrottleWindow
	}
	if opts.Policies == nil {
		opts.Policies = defaults.Policies
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}

	policies := make(map[string]DeliveryPolicy, len(opts.Policies))
	for ch, p := range opts.Policies {
		policies[ch] = p
	}

	return &Hub{
		clients:       make(map[string]*client),
		throttles:     make(map[string]*throttle),
		policies:      policies,
		heartbeat:     opts.HeartbeatInterval,
		defaultWindow: opts.ThrottleWindow,
		clock:         opts.Clock,
		logger:        logger,
	}
}

// Register 注册新连接（alive = true），返回连接 id
// Hub 已关闭时直接关闭 conn 并返回空 id
func (h *Hub) Register(conn Conn) string {
	id := "client_" + uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		h.logger.Debug("Connection rejected, hub closed", zap.String("remote_addr", conn.RemoteAddr()))
		return ""
	}
	h.clients[id] = &client{
		id:          id,
		conn:        conn,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: h.clock.Now(),
		alive:       true,
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("client_id", id),
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Int("clients", count),
	)
	return id
}

// Deregister 移除连接（幂等）
func (h *Hub) Deregister(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("Client disconnected",
			zap.String("client_id", id),
			zap.Int("clients", count),
		)
	}
}

// MarkAlive 收到 pong
func (h *Hub) MarkAlive(id string) {
	h.mu.Lock()
	if c, ok := h.clients[id]; ok {
		c.alive = true
	}
	h.mu.Unlock()
}

// Snapshot 连接快照（按连接时间排序）
func (h *Hub) Snapshot() []models.ConnectionInfo {
	h.mu.Lock()
	out := make([]models.ConnectionInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, models.ConnectionInfo{
			ID:            c.id,
			RemoteAddress: c.remoteAddr,
			ConnectedAt:   c.connectedAt,
			Alive:         c.alive,
		})
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 停止心跳、取消所有待发送的节流消息并关闭全部连接
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.stopLiveness != nil {
		close(h.stopLiveness)
		h.stopLiveness = nil
	}
	for _, t := range h.throttles {
		t.cancelLocked()
	}
	conns := make([]Conn, 0, len(h.clients))
	for id, c := range h.clients {
		conns = append(conns, c.conn)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	h.wg.Wait()

	for _, conn := range conns {
		_ = conn.Close()
	}
	h.logger.Info("Hub closed", zap.Int("closed_connections", len(conns)))
}
