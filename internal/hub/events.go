package hub

import (
	"context"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// Event Hub 事件
type Event interface {
	eventName() string
}

// Connected 新连接；Registered 非空时回传分配的 id
type Connected struct {
	Conn       Conn
	Registered func(id string)
}

// Disconnected 连接断开
type Disconnected struct {
	ID string
}

// Pong 收到心跳响应
type Pong struct {
	ID string
}

// AlertRaised 摄像头提醒
type AlertRaised struct {
	Alert     models.CameraAlert
	ExcludeID string
}

// RecordIngested 记录已落库；Paired 为最新融合视图（可为空）
type RecordIngested struct {
	Position  *models.PositionRecord
	Sensor    *models.SensorRecord
	Paired    *models.PairedRecord
	ExcludeID string
}

// SweepTick 触发一次心跳检查
type SweepTick struct{}

func (Connected) eventName() string      { return "connected" }
func (Disconnected) eventName() string   { return "disconnected" }
func (Pong) eventName() string           { return "pong" }
func (AlertRaised) eventName() string    { return "alert_raised" }
func (RecordIngested) eventName() string { return "record_ingested" }
func (SweepTick) eventName() string      { return "sweep_tick" }

// Handle 分发单个事件
func (h *Hub) Handle(ev Event) {
	switch e := ev.(type) {
	case Connected:
		id := h.Register(e.Conn)
		if e.Registered != nil {
			e.Registered(id)
		}
	case Disconnected:
		h.Deregister(e.ID)
	case Pong:
		h.MarkAlive(e.ID)
	case AlertRaised:
		h.RaiseAlert(e.Alert, e.ExcludeID)
	case RecordIngested:
		h.handleRecordIngested(e)
	case SweepTick:
		h.Sweep()
	default:
		h.logger.Warn("Unknown hub event", zap.Any("event", ev))
	}
}

func (h *Hub) handleRecordIngested(e RecordIngested) {
	if e.Position != nil {
		h.BroadcastLocationUpdate(e.Position, e.ExcludeID)
	}
	if e.Sensor != nil {
		h.BroadcastSensorUpdate(e.Sensor, e.ExcludeID)
		h.BroadcastStepUpdate(e.Sensor, e.ExcludeID)
	}
	if e.Paired != nil {
		h.BroadcastDataUpdate(e.Paired)
	}
}

// Run 消费事件通道直到 ctx 结束或通道关闭
func (h *Hub) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.logger.Debug("Hub event", zap.String("event", ev.eventName()))
			h.Handle(ev)
		}
	}
}
