package models

// PositionRecord 定位记录（locations 表）
// ID 由数据源分配，单调递增；存储后不可变
type PositionRecord struct {
	ID        int64   `json:"id"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Address   *string `json:"adresse,omitempty"`
	Timestamp int64   `json:"timestamp"` // epoch 毫秒
}

// SensorRecord 体感/运动传感器记录（sensors 表）
// ID 与 PositionRecord 的 ID 属于两个独立序列
type SensorRecord struct {
	ID          int64    `json:"id"`
	StepCount   int64    `json:"step"`
	Calories    *float64 `json:"calories,omitempty"`
	Velocity    *float64 `json:"velocity,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Timestamp   int64    `json:"timestamp"` // epoch 毫秒
}

// PairedRecord 融合视图（派生，不落库）
type PairedRecord struct {
	Position          *PositionRecord `json:"position"`
	Sensor            *SensorRecord   `json:"sensor"`
	TimeDeltaMs       *int64          `json:"time_delta_ms"`
	IDsAligned        bool            `json:"ids_aligned"`
	CombinedTimestamp int64           `json:"combined_timestamp"`
}

// NewPairedRecord 组装融合记录并计算派生字段
// IDsAligned 仅在两侧都存在且 id 相同时为 true
func NewPairedRecord(position *PositionRecord, sensor *SensorRecord) *PairedRecord {
	aligned := position != nil && sensor != nil && position.ID == sensor.ID
	return newPaired(position, sensor, aligned)
}

// NewPairedRecordAligned 与 NewPairedRecord 相同，但 IDsAligned 由调用方决定
// （按 id 关联时，以请求的 id 为准，而不是回退记录的 id）
func NewPairedRecordAligned(position *PositionRecord, sensor *SensorRecord, aligned bool) *PairedRecord {
	return newPaired(position, sensor, aligned && position != nil && sensor != nil)
}

func newPaired(position *PositionRecord, sensor *SensorRecord, aligned bool) *PairedRecord {
	p := &PairedRecord{
		Position:   position,
		Sensor:     sensor,
		IDsAligned: aligned,
	}

	var posTS, sensorTS int64
	if position != nil {
		posTS = position.Timestamp
	}
	if sensor != nil {
		sensorTS = sensor.Timestamp
	}

	if position != nil && sensor != nil {
		delta := posTS - sensorTS
		if delta < 0 {
			delta = -delta
		}
		p.TimeDeltaMs = &delta
	}

	p.CombinedTimestamp = posTS
	if sensorTS > p.CombinedTimestamp {
		p.CombinedTimestamp = sensorTS
	}

	return p
}

// Message 语音/文本消息（messages 表）
type Message struct {
	ID        int64  `json:"id"`
	Text      string `json:"text_content"`
	Read      bool   `json:"is_read"`
	CreatedAt int64  `json:"created_at"` // epoch 毫秒
}
