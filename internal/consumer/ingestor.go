package consumer

import (
	"context"
	"fmt"

	"github.com/mandrindraa/bbe-my-eyes/internal/hub"
	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// RecordStore 记录写入
type RecordStore interface {
	InsertPosition(ctx context.Context, rec *models.PositionRecord) (*models.PositionRecord, error)
	InsertSensor(ctx context.Context, rec *models.SensorRecord) (*models.SensorRecord, error)
}

// LatestSource 最新融合视图
type LatestSource interface {
	Latest(ctx context.Context) (*models.PairedRecord, error)
}

// LatestCache 最新融合视图缓存
type LatestCache interface {
	StoreLatest(ctx context.Context, paired *models.PairedRecord) error
}

// StreamMirror 入库记录镜像
type StreamMirror interface {
	PublishPosition(ctx context.Context, rec *models.PositionRecord) error
	PublishSensor(ctx context.Context, rec *models.SensorRecord) error
}

// Dispatcher 推送事件接收方（*hub.Hub）
type Dispatcher interface {
	Handle(ev hub.Event)
}

// Ingestor 先落库再推送
//
// 落库失败直接返回错误，不推送；缓存、stream 与融合失败只记录日志。
type Ingestor struct {
	store      RecordStore
	latest     LatestSource
	cache      LatestCache
	stream     StreamMirror
	dispatcher Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
}

// NewIngestor 创建写入器；cache、stream 可为 nil
func NewIngestor(
	store RecordStore,
	latest LatestSource,
	cache LatestCache,
	stream StreamMirror,
	dispatcher Dispatcher,
	metrics *Metrics,
	logger *zap.Logger,
) *Ingestor {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Ingestor{
		store:      store,
		latest:     latest,
		cache:      cache,
		stream:     stream,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// IngestPosition 写入定位并推送 location_update / update:data
func (i *Ingestor) IngestPosition(ctx context.Context, rec *models.PositionRecord, excludeID string) (*models.PositionRecord, error) {
	stored, err := i.store.InsertPosition(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to persist position: %w", err)
	}

	if i.stream != nil {
		if err := i.stream.PublishPosition(ctx, stored); err != nil {
			i.metrics.IncrementError("cache")
		}
	}

	i.dispatcher.Handle(hub.RecordIngested{
		Position:  stored,
		Paired:    i.refreshLatest(ctx),
		ExcludeID: excludeID,
	})
	return stored, nil
}

// IngestSensor 写入传感器数据并推送 sensor_update / update_steps / update:data
func (i *Ingestor) IngestSensor(ctx context.Context, rec *models.SensorRecord, excludeID string) (*models.SensorRecord, error) {
	stored, err := i.store.InsertSensor(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to persist sensor: %w", err)
	}

	if i.stream != nil {
		if err := i.stream.PublishSensor(ctx, stored); err != nil {
			i.metrics.IncrementError("cache")
		}
	}

	i.dispatcher.Handle(hub.RecordIngested{
		Sensor:    stored,
		Paired:    i.refreshLatest(ctx),
		ExcludeID: excludeID,
	})
	return stored, nil
}

// refreshLatest 重新融合最新视图并写缓存；失败时返回 nil（不推送 update:data）
func (i *Ingestor) refreshLatest(ctx context.Context) *models.PairedRecord {
	paired, err := i.latest.Latest(ctx)
	if err != nil {
		i.metrics.IncrementError("reconcile")
		i.logger.Warn("Failed to reconcile latest data", zap.Error(err))
		return nil
	}

	if i.cache != nil {
		if err := i.cache.StoreLatest(ctx, paired); err != nil {
			i.metrics.IncrementError("cache")
			i.logger.Warn("Failed to update latest data cache", zap.Error(err))
		}
	}
	return paired
}
