package models

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMissingField 入站消息缺少必填字段
var ErrMissingField = errors.New("missing required field")

// PositionPayload 定位 MQTT 消息格式
// 使用指针区分 “字段缺失” 与 “零值”
type PositionPayload struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
	Adresse   *string  `json:"adresse"`
	Address   *string  `json:"address"`
	Timestamp *int64   `json:"timestamp"`
}

// Validate 校验必填字段：longitude、latitude、timestamp
func (p *PositionPayload) Validate() error {
	if p.Longitude == nil {
		return fmt.Errorf("%w: longitude", ErrMissingField)
	}
	if p.Latitude == nil {
		return fmt.Errorf("%w: latitude", ErrMissingField)
	}
	if p.Timestamp == nil || *p.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	return nil
}

// ToRecord 转换为待写入的 PositionRecord（ID 由存储分配）
func (p *PositionPayload) ToRecord() *PositionRecord {
	addr := p.Adresse
	if addr == nil {
		addr = p.Address
	}
	return &PositionRecord{
		Longitude: *p.Longitude,
		Latitude:  *p.Latitude,
		Address:   addr,
		Timestamp: *p.Timestamp,
	}
}

// SensorPayload 传感器 MQTT 消息格式
type SensorPayload struct {
	Step        *int64   `json:"step"`
	Calories    *float64 `json:"calories"`
	Velocity    *float64 `json:"velocity"`
	Temperature *float64 `json:"temperature"`
	Timestamp   *int64   `json:"timestamp"`
}

// Validate 校验必填字段：step、timestamp（step 为 0 是合法值）
func (p *SensorPayload) Validate() error {
	if p.Step == nil {
		return fmt.Errorf("%w: step", ErrMissingField)
	}
	if p.Timestamp == nil || *p.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	return nil
}

// ToRecord 转换为待写入的 SensorRecord
func (p *SensorPayload) ToRecord() *SensorRecord {
	return &SensorRecord{
		StepCount:   *p.Step,
		Calories:    p.Calories,
		Velocity:    p.Velocity,
		Temperature: p.Temperature,
		Timestamp:   *p.Timestamp,
	}
}

// CameraAlert 摄像头障碍物检测事件
type CameraAlert struct {
	Obstacle  bool    `json:"obstacle"`
	Direction string  `json:"direction"`
	Distance  float64 `json:"distance"`
}

// Actionable 是否需要提醒（无障碍物的事件直接丢弃）
func (a CameraAlert) Actionable() bool {
	return a.Obstacle
}

// Message 生成播报文本
func (a CameraAlert) Message() string {
	return "Attention! Obstacle detected " + a.Direction + " at " +
		strconv.FormatFloat(a.Distance, 'f', -1, 64) + " meters."
}
