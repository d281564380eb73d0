package models

import "time"

// Envelope 推送给客户端的统一消息格式
// {"channel": string, "payload": any, "timestamp": epoch 毫秒}
type Envelope struct {
	Channel   string      `json:"channel"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// ConnectionInfo 连接快照（只读）
type ConnectionInfo struct {
	ID            string    `json:"id"`
	RemoteAddress string    `json:"ip"`
	ConnectedAt   time.Time `json:"connected_at"`
	Alive         bool      `json:"is_alive"`
}

// 已知频道
const (
	ChannelLocationUpdate  = "location_update"
	ChannelSensorUpdate    = "sensor_update"
	ChannelDataUpdate      = "update:data"
	ChannelCamera          = "update_camera"
	ChannelSteps           = "update_steps"
	ChannelIncomingMessage = "incoming_message"
	ChannelUnreadMessages  = "unread_messages"

	// 单播给单个客户端
	ChannelConnection = "connection"
	ChannelEcho       = "echo"
	ChannelError      = "error"

	// 客户端上行
	ChannelClientMessage  = "client_message"
	ChannelClientLocation = "update_location"
)

// 推送优先级（前端 TTS 使用）
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)
