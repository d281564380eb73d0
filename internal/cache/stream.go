package cache

import (
	"context"

	rediscommon "github.com/mandrindraa/bbe-my-eyes/common/redis"
	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// RecordStreamKey 入库记录的 Redis Stream
	RecordStreamKey = "bbe:records:stream"

	KindPosition = "position"
	KindSensor   = "sensor"
)

// RecordStream 将入库记录镜像到 Redis Stream，供下游订阅
type RecordStream struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRecordStream 创建 stream 镜像；stream 为空时使用 RecordStreamKey
func NewRecordStream(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RecordStream {
	if stream == "" {
		stream = RecordStreamKey
	}
	return &RecordStream{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// PublishPosition 发布定位记录
func (s *RecordStream) PublishPosition(ctx context.Context, rec *models.PositionRecord) error {
	return s.publish(ctx, KindPosition, rec.ID, rec)
}

// PublishSensor 发布传感器记录
func (s *RecordStream) PublishSensor(ctx context.Context, rec *models.SensorRecord) error {
	return s.publish(ctx, KindSensor, rec.ID, rec)
}

func (s *RecordStream) publish(ctx context.Context, kind string, id int64, rec interface{}) error {
	msgID, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, s.maxLen, kind, rec)
	if err != nil {
		s.logger.Warn("Failed to publish record to stream",
			zap.String("stream", s.stream),
			zap.String("kind", kind),
			zap.Int64("id", id),
			zap.Error(err),
		)
		return err
	}

	s.logger.Debug("Published record to stream",
		zap.String("stream", s.stream),
		zap.String("kind", kind),
		zap.String("message_id", msgID),
	)
	return nil
}
