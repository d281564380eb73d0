package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqttcommon "github.com/mandrindraa/bbe-my-eyes/common/mqtt"
	"github.com/mandrindraa/bbe-my-eyes/internal/config"
	"github.com/mandrindraa/bbe-my-eyes/internal/hub"
	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅（*mqttcommon.Client）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer MQTT消息消费者
type MQTTConsumer struct {
	config     *config.Config
	subscriber Subscriber
	ingestor   *Ingestor
	dispatcher Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	subscriber Subscriber,
	ingestor *Ingestor,
	dispatcher Dispatcher,
	metrics *Metrics,
	logger *zap.Logger,
) *MQTTConsumer {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &MQTTConsumer{
		config:     cfg,
		subscriber: subscriber,
		ingestor:   ingestor,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// Metrics 返回消费者指标
func (c *MQTTConsumer) Metrics() *Metrics {
	return c.metrics
}

func (c *MQTTConsumer) topics() map[string]mqttcommon.MessageHandler {
	return map[string]mqttcommon.MessageHandler{
		c.config.Topics.Locations: c.handleLocation,
		c.config.Topics.Sensors:   c.handleSensor,
		c.config.Topics.Camera:    c.handleCamera,
	}
}

// Start 订阅主题并阻塞直到 ctx 结束
func (c *MQTTConsumer) Start(ctx context.Context) error {
	for topic, handler := range c.topics() {
		if topic == "" {
			continue
		}
		if err := c.subscriber.Subscribe(topic, c.config.MQTT.QoS, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started",
		zap.String("locations_topic", c.config.Topics.Locations),
		zap.String("sensors_topic", c.config.Topics.Sensors),
		zap.String("camera_topic", c.config.Topics.Camera),
	)

	go c.reportMetrics(ctx)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	var topics []string
	for topic := range c.topics() {
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	if err := c.subscriber.Unsubscribe(topics...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleLocation 处理定位消息
//
// 格式错误或缺少字段的消息记录日志后丢弃，返回 nil。
func (c *MQTTConsumer) handleLocation(topic string, payload []byte) error {
	startTime := time.Now()
	c.metrics.IncrementProcessed()

	var msg models.PositionPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.metrics.IncrementSkipped("parse")
		c.logger.Warn("Invalid location message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}
	if err := msg.Validate(); err != nil {
		c.metrics.IncrementSkipped("parse")
		c.logger.Warn("Incomplete location message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	stored, err := c.ingestor.IngestPosition(context.Background(), msg.ToRecord(), "")
	if err != nil {
		c.metrics.IncrementFailed("persist")
		c.logger.Error("Failed to ingest location",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	c.metrics.IncrementSucceeded(time.Since(startTime))
	c.logger.Debug("Location ingested",
		zap.Int64("id", stored.ID),
		zap.Float64("longitude", stored.Longitude),
		zap.Float64("latitude", stored.Latitude),
	)
	return nil
}

// handleSensor 处理传感器消息
func (c *MQTTConsumer) handleSensor(topic string, payload []byte) error {
	startTime := time.Now()
	c.metrics.IncrementProcessed()

	var msg models.SensorPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.metrics.IncrementSkipped("parse")
		c.logger.Warn("Invalid sensor message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}
	if err := msg.Validate(); err != nil {
		c.metrics.IncrementSkipped("parse")
		c.logger.Warn("Incomplete sensor message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	stored, err := c.ingestor.IngestSensor(context.Background(), msg.ToRecord(), "")
	if err != nil {
		c.metrics.IncrementFailed("persist")
		c.logger.Error("Failed to ingest sensor data",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	c.metrics.IncrementSucceeded(time.Since(startTime))
	c.logger.Debug("Sensor data ingested",
		zap.Int64("id", stored.ID),
		zap.Int64("step", stored.StepCount),
	)
	return nil
}

// handleCamera 处理摄像头障碍物消息
func (c *MQTTConsumer) handleCamera(topic string, payload []byte) error {
	startTime := time.Now()
	c.metrics.IncrementProcessed()

	var alert models.CameraAlert
	if err := json.Unmarshal(payload, &alert); err != nil {
		c.metrics.IncrementSkipped("parse")
		c.logger.Warn("Invalid camera message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}
	if !alert.Actionable() {
		c.metrics.IncrementSkipped("")
		return nil
	}

	c.dispatcher.Handle(hub.AlertRaised{Alert: alert})
	c.metrics.IncrementSucceeded(time.Since(startTime))
	return nil
}

// reportMetrics 定期报告指标
func (c *MQTTConsumer) reportMetrics(ctx context.Context) {
	interval := c.config.Metrics.ReportInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			uptime := time.Since(snapshot.StartTime)

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}

			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("messages_skipped", snapshot.MessagesSkipped),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_persist", snapshot.ErrorsPersist),
				zap.Int64("errors_reconcile", snapshot.ErrorsReconcile),
				zap.Int64("errors_cache", snapshot.ErrorsCache),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", uptime),
			)
		}
	}
}
