package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// LatestKey 最新融合视图的缓存 key
const LatestKey = "bbe:data:latest"

// SnapshotCache 最新融合视图缓存
type SnapshotCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotCache 创建缓存；ttl <= 0 时使用 300s
func NewSnapshotCache(kv KVStore, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &SnapshotCache{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

// StoreLatest 写入最新融合视图
func (c *SnapshotCache) StoreLatest(ctx context.Context, paired *models.PairedRecord) error {
	jsonData, err := json.Marshal(paired)
	if err != nil {
		return fmt.Errorf("failed to marshal paired record: %w", err)
	}

	if err := c.kv.Set(ctx, LatestKey, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated latest data cache",
		zap.String("key", LatestKey),
		zap.Int64("combined_timestamp", paired.CombinedTimestamp),
	)
	return nil
}

// GetLatest 读取最新融合视图；不存在时返回 ErrCacheMiss
func (c *SnapshotCache) GetLatest(ctx context.Context) (*models.PairedRecord, error) {
	raw, err := c.kv.Get(ctx, LatestKey)
	if err != nil {
		return nil, err
	}

	var paired models.PairedRecord
	if err := json.Unmarshal([]byte(raw), &paired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached record: %w", err)
	}
	return &paired, nil
}
