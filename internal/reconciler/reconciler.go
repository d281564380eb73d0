package reconciler

import (
	"context"
	"fmt"
	"sort"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// DefaultLimit 未指定或非法 limit 时使用的条数
const DefaultLimit = 10

// RecordSource 两路记录的数据源（均按 id 降序返回）
type RecordSource interface {
	FetchRecentPositions(ctx context.Context, limit int) ([]*models.PositionRecord, error)
	FetchRecentSensors(ctx context.Context, limit int) ([]*models.SensorRecord, error)
}

// Reconciler 将定位流与传感器流融合为 PairedRecord
//
// 只读；每次调用恰好发起两次查询，任一失败则整体失败。
type Reconciler struct {
	source RecordSource
	logger *zap.Logger
}

// NewReconciler 创建融合器
func NewReconciler(source RecordSource, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		source: source,
		logger: logger,
	}
}

func (r *Reconciler) fetch(ctx context.Context, limit int) ([]*models.PositionRecord, []*models.SensorRecord, error) {
	positions, err := r.source.FetchRecentPositions(ctx, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	sensors, err := r.source.FetchRecentSensors(ctx, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch sensors: %w", err)
	}
	return positions, sensors, nil
}

// ReconcilePositional 按下标配对，较短一侧用其最新记录补位
//
// 同一条最新记录可能出现在多个配对中。
func (r *Reconciler) ReconcilePositional(ctx context.Context, limit int) ([]*models.PairedRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	positions, sensors, err := r.fetch(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := make([]*models.PairedRecord, 0, max(len(positions), len(sensors)))
	if len(positions) == 0 && len(sensors) == 0 {
		return result, nil
	}

	var latestPosition *models.PositionRecord
	var latestSensor *models.SensorRecord
	if len(positions) > 0 {
		latestPosition = positions[0]
	}
	if len(sensors) > 0 {
		latestSensor = sensors[0]
	}

	for i := 0; i < max(len(positions), len(sensors)); i++ {
		position := latestPosition
		if i < len(positions) {
			position = positions[i]
		}
		sensor := latestSensor
		if i < len(sensors) {
			sensor = sensors[i]
		}
		if position == nil && sensor == nil {
			continue
		}
		result = append(result, models.NewPairedRecord(position, sensor))
	}

	r.logger.Debug("Positional reconciliation done",
		zap.Int("positions", len(positions)),
		zap.Int("sensors", len(sensors)),
		zap.Int("pairs", len(result)),
	)
	return result, nil
}

// ReconcileByIdentity 按 id 关联两路记录
//
// 对两侧 id 取并集，按 id 降序输出；某侧缺少该 id 时用该侧最新记录补位，
// 此时 IDsAligned 为 false（以请求的 id 为准）。
func (r *Reconciler) ReconcileByIdentity(ctx context.Context, limit int) ([]*models.PairedRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	positions, sensors, err := r.fetch(ctx, limit)
	if err != nil {
		return nil, err
	}

	posByID := make(map[int64]*models.PositionRecord, len(positions))
	sensorByID := make(map[int64]*models.SensorRecord, len(sensors))
	ids := make([]int64, 0, len(positions)+len(sensors))

	var latestPosition *models.PositionRecord
	var latestSensor *models.SensorRecord
	for _, p := range positions {
		if latestPosition == nil || p.ID > latestPosition.ID {
			latestPosition = p
		}
		if _, seen := posByID[p.ID]; !seen {
			posByID[p.ID] = p
			ids = append(ids, p.ID)
		}
	}
	for _, s := range sensors {
		if latestSensor == nil || s.ID > latestSensor.ID {
			latestSensor = s
		}
		if _, seen := sensorByID[s.ID]; seen {
			continue
		}
		sensorByID[s.ID] = s
		if _, dup := posByID[s.ID]; !dup {
			ids = append(ids, s.ID)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	result := make([]*models.PairedRecord, 0, len(ids))
	for _, id := range ids {
		position, havePos := posByID[id]
		sensor, haveSensor := sensorByID[id]
		if !havePos {
			position = latestPosition
		}
		if !haveSensor {
			sensor = latestSensor
		}
		result = append(result, models.NewPairedRecordAligned(position, sensor, havePos && haveSensor))
	}

	return result, nil
}

// Latest 两路各取最新一条组成融合视图
func (r *Reconciler) Latest(ctx context.Context) (*models.PairedRecord, error) {
	positions, sensors, err := r.fetch(ctx, 1)
	if err != nil {
		return nil, err
	}

	var position *models.PositionRecord
	var sensor *models.SensorRecord
	if len(positions) > 0 {
		position = positions[0]
	}
	if len(sensors) > 0 {
		sensor = sensors[0]
	}
	return models.NewPairedRecord(position, sensor), nil
}
