package hub

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// DeliveryPolicy 频道投递策略
type DeliveryPolicy int

const (
	// PolicyImmediate 每次调用立即投递
	PolicyImmediate DeliveryPolicy = iota
	// PolicyThrottledCoalesced 节流窗口内只保留最新一条
	PolicyThrottledCoalesced
)

func (p DeliveryPolicy) String() string {
	switch p {
	case PolicyImmediate:
		return "immediate"
	case PolicyThrottledCoalesced:
		return "throttled"
	default:
		return fmt.Sprintf("DeliveryPolicy(%d)", int(p))
	}
}

// ParseDeliveryPolicy 解析配置中的策略名
func ParseDeliveryPolicy(s string) (DeliveryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "immediate", "":
		return PolicyImmediate, nil
	case "throttled", "throttled_coalesced", "coalesced":
		return PolicyThrottledCoalesced, nil
	default:
		return PolicyImmediate, fmt.Errorf("unknown delivery policy %q", s)
	}
}

// DefaultChannelPolicies 静态频道策略表
func DefaultChannelPolicies() map[string]DeliveryPolicy {
	return map[string]DeliveryPolicy{
		models.ChannelLocationUpdate:  PolicyImmediate,
		models.ChannelSensorUpdate:    PolicyImmediate,
		models.ChannelDataUpdate:      PolicyImmediate,
		models.ChannelSteps:           PolicyImmediate,
		models.ChannelIncomingMessage: PolicyImmediate,
		models.ChannelUnreadMessages:  PolicyImmediate,
		models.ChannelCamera:          PolicyThrottledCoalesced,
	}
}

// Policy 返回频道策略；未配置的频道按立即投递处理
func (h *Hub) Policy(channel string) DeliveryPolicy {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.policies[channel]
}

// Broadcast 向除 excludeID 外的所有连接推送，返回目标连接数
//
// 单个连接发送失败只记录日志，不影响其他连接。
func (h *Hub) Broadcast(channel string, payload interface{}, excludeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcastLocked(channel, payload, excludeID)
}

func (h *Hub) broadcastLocked(channel string, payload interface{}, excludeID string) int {
	env := models.Envelope{
		Channel:   channel,
		Payload:   payload,
		Timestamp: h.clock.Now().UnixMilli(),
	}

	targeted := 0
	failed := 0
	for id, c := range h.clients {
		if id == excludeID {
			continue
		}
		targeted++
		if err := c.conn.Send(env); err != nil {
			failed++
			level := zap.DebugLevel
			if errors.Is(err, ErrSendBufferFull) {
				level = zap.WarnLevel
			}
			if ce := h.logger.Check(level, "Send to client failed"); ce != nil {
				ce.Write(
					zap.String("client_id", id),
					zap.String("channel", channel),
					zap.Error(err),
				)
			}
		}
	}

	h.logger.Debug("Broadcast sent",
		zap.String("channel", channel),
		zap.Int("targeted", targeted),
		zap.Int("failed", failed),
	)
	return targeted
}

// SendTo 单播给指定连接
func (h *Hub) SendTo(id, channel string, payload interface{}) error {
	h.mu.Lock()
	c, ok := h.clients[id]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("client %s: %w", id, ErrConnClosed)
	}
	return c.conn.Send(models.Envelope{
		Channel:   channel,
		Payload:   payload,
		Timestamp: h.clock.Now().UnixMilli(),
	})
}

// Publish 按频道策略投递
//
// 立即投递频道返回目标连接数；节流频道若立即发出则返回目标连接数，进入等待返回 0。
func (h *Hub) Publish(channel string, payload interface{}, excludeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.policies[channel] == PolicyThrottledCoalesced {
		return h.offerLocked(channel, payload, excludeID)
	}
	return h.broadcastLocked(channel, payload, excludeID)
}
