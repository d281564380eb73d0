package hub

import (
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// AlertPayload update_camera 频道的推送内容
// Timestamp 为实际发出的时间
type AlertPayload struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	Priority  string `json:"priority"`
}

type pendingItem struct {
	payload   interface{}
	excludeID string
}

// throttle 单个节流频道的状态：Idle（无 pending、无 timer）或 Pending（有 pending、timer 已启动）
type throttle struct {
	window     time.Duration
	lastSentAt time.Time
	sentOnce   bool
	pending    *pendingItem
	timer      Timer
	// 每次启动或取消 timer 时递增；回调中不一致则放弃发送
	gen uint64
}

func (t *throttle) cancelLocked() bool {
	if t.timer == nil && t.pending == nil {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.gen++
	return true
}

func (h *Hub) throttleLocked(channel string) *throttle {
	t, ok := h.throttles[channel]
	if !ok {
		t = &throttle{window: h.defaultWindow}
		h.throttles[channel] = t
	}
	return t
}

// offerLocked 节流投递：窗口已过则立即发送，否则替换 pending 并在需要时启动唯一的 timer
func (h *Hub) offerLocked(channel string, payload interface{}, excludeID string) int {
	if h.closed {
		return 0
	}

	t := h.throttleLocked(channel)
	now := h.clock.Now()
	elapsed := now.Sub(t.lastSentAt)

	if !t.sentOnce || elapsed >= t.window {
		// 已到期但回调尚未执行的 pending 被新消息取代
		if t.cancelLocked() {
			h.logger.Debug("Throttled message superseded", zap.String("channel", channel))
		}
		return h.sendThrottledLocked(channel, t, now, payload, excludeID)
	}

	replaced := t.pending != nil
	t.pending = &pendingItem{payload: payload, excludeID: excludeID}

	if t.timer != nil {
		h.logger.Debug("Throttled message replaced in queue",
			zap.String("channel", channel),
			zap.Bool("replaced", replaced),
		)
		return 0
	}

	t.gen++
	gen := t.gen
	wait := t.window - elapsed
	t.timer = h.clock.AfterFunc(wait, func() { h.fireThrottle(channel, gen) })

	h.logger.Debug("Throttled message queued",
		zap.String("channel", channel),
		zap.Duration("wait", wait),
	)
	return 0
}

func (h *Hub) sendThrottledLocked(channel string, t *throttle, now time.Time, payload interface{}, excludeID string) int {
	t.lastSentAt = now
	t.sentOnce = true
	if a, ok := payload.(AlertPayload); ok {
		a.Timestamp = now.UnixMilli()
		payload = a
	}
	return h.broadcastLocked(channel, payload, excludeID)
}

func (h *Hub) fireThrottle(channel string, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.throttles[channel]
	if !ok || t.gen != gen || h.closed {
		return
	}

	item := t.pending
	t.pending = nil
	t.timer = nil
	t.gen++
	if item == nil {
		return
	}
	h.sendThrottledLocked(channel, t, h.clock.Now(), item.payload, item.excludeID)
}

// CancelPending 取消频道的待发送消息与 timer（空闲时为空操作）
func (h *Hub) CancelPending(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.throttles[channel]; ok && t.cancelLocked() {
		h.logger.Debug("Pending throttled message cancelled", zap.String("channel", channel))
	}
}

// SetThrottleWindow 修改频道节流窗口，对下一次投递生效
func (h *Hub) SetThrottleWindow(channel string, window time.Duration) {
	if window < 0 {
		window = 0
	}
	h.mu.Lock()
	h.throttleLocked(channel).window = window
	h.mu.Unlock()
}

// HasPending 频道是否有待发送消息
func (h *Hub) HasPending(channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.throttles[channel]
	return ok && t.pending != nil
}

// RaiseAlert 摄像头障碍物提醒，经 update_camera 频道节流投递
//
// 无障碍物的事件直接丢弃，不影响节流计时。
func (h *Hub) RaiseAlert(alert models.CameraAlert, excludeID string) int {
	if !alert.Actionable() {
		h.logger.Debug("Camera message ignored (no obstacle)")
		return 0
	}
	return h.Publish(models.ChannelCamera, AlertPayload{
		Message:  alert.Message(),
		Priority: models.PriorityLow,
	}, excludeID)
}
