package consumer

import (
	"sync"
	"time"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数
	MessagesFailed    int64 // 处理失败的消息数
	MessagesSkipped   int64 // 跳过的消息数（格式错误、缺少字段、无障碍物）

	// 错误分类统计
	ErrorsParse     int64 // 解析/校验错误
	ErrorsPersist   int64 // 落库失败
	ErrorsReconcile int64 // 融合失败
	ErrorsCache     int64 // 缓存/stream 写入失败

	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time
}

// NewMetrics 创建指标
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		MessagesSkipped:     m.MessagesSkipped,
		ErrorsParse:         m.ErrorsParse,
		ErrorsPersist:       m.ErrorsPersist,
		ErrorsReconcile:     m.ErrorsReconcile,
		ErrorsCache:         m.ErrorsCache,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

func (m *Metrics) IncrementSucceeded(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	m.countError(errorType)
}

// IncrementSkipped 增加跳过计数；errorType 为空表示正常跳过
func (m *Metrics) IncrementSkipped(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSkipped++
	m.countError(errorType)
}

// IncrementError 只记录错误分类（不影响成功/失败）
func (m *Metrics) IncrementError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countError(errorType)
}

func (m *Metrics) countError(errorType string) {
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "persist":
		m.ErrorsPersist++
	case "reconcile":
		m.ErrorsReconcile++
	case "cache":
		m.ErrorsCache++
	}
}
