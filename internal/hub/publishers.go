package hub

import (
	"github.com/mandrindraa/bbe-my-eyes/internal/models"
)

// StepUpdate update_steps 频道内容
type StepUpdate struct {
	Timestamp int64  `json:"timestamp"`
	Step      int64  `json:"step"`
	Priority  string `json:"priority"`
}

// DataUpdate update:data 频道内容（融合视图 + 优先级）
type DataUpdate struct {
	*models.PairedRecord
	Priority string `json:"priority"`
}

// TextMessage incoming_message 频道内容
type TextMessage struct {
	ID        int64  `json:"id,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// BroadcastLocationUpdate 推送定位（数组形式）
func (h *Hub) BroadcastLocationUpdate(rec *models.PositionRecord, excludeID string) int {
	return h.Publish(models.ChannelLocationUpdate, []*models.PositionRecord{rec}, excludeID)
}

// BroadcastSensorUpdate 推送传感器数据（数组形式）
func (h *Hub) BroadcastSensorUpdate(rec *models.SensorRecord, excludeID string) int {
	return h.Publish(models.ChannelSensorUpdate, []*models.SensorRecord{rec}, excludeID)
}

// BroadcastStepUpdate 推送步数
func (h *Hub) BroadcastStepUpdate(rec *models.SensorRecord, excludeID string) int {
	return h.Publish(models.ChannelSteps, StepUpdate{
		Timestamp: h.clock.Now().UnixMilli(),
		Step:      rec.StepCount,
		Priority:  models.PriorityMedium,
	}, excludeID)
}

// BroadcastDataUpdate 推送融合视图
func (h *Hub) BroadcastDataUpdate(paired *models.PairedRecord) int {
	return h.Publish(models.ChannelDataUpdate, DataUpdate{
		PairedRecord: paired,
		Priority:     models.PriorityHigh,
	}, "")
}

// BroadcastTextMessage 推送语音/文本消息
func (h *Hub) BroadcastTextMessage(id int64, text string) int {
	return h.Publish(models.ChannelIncomingMessage, TextMessage{
		ID:        id,
		Message:   text,
		Timestamp: h.clock.Now().UnixMilli(),
	}, "")
}
