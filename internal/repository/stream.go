package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"go.uber.org/zap"
)

// ErrMessageNotFound 消息不存在
var ErrMessageNotFound = errors.New("message not found")

// StreamRepository 定位/传感器/消息存储（PostgreSQL）
//
// locations 与 sensors 只追加；timestamp 列为 TIMESTAMPTZ，读写时统一换算为 epoch 毫秒。
type StreamRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStreamRepository 创建存储仓库
func NewStreamRepository(db *sql.DB, logger *zap.Logger) *StreamRepository {
	return &StreamRepository{
		db:     db,
		logger: logger,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS locations (
	id        BIGSERIAL PRIMARY KEY,
	longitude DOUBLE PRECISION NOT NULL,
	latitude  DOUBLE PRECISION NOT NULL,
	adresse   TEXT,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sensors (
	id          BIGSERIAL PRIMARY KEY,
	step        BIGINT NOT NULL,
	calories    DOUBLE PRECISION,
	velocity    DOUBLE PRECISION,
	temperature DOUBLE PRECISION,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id           BIGSERIAL PRIMARY KEY,
	text_content TEXT NOT NULL,
	is_read      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema 建表（幂等）
func (r *StreamRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// InsertPosition 写入定位记录，返回带 id 的记录
func (r *StreamRepository) InsertPosition(ctx context.Context, rec *models.PositionRecord) (*models.PositionRecord, error) {
	query := `
		INSERT INTO locations (longitude, latitude, adresse, timestamp)
		VALUES ($1, $2, $3, to_timestamp($4::double precision / 1000))
		RETURNING id
	`

	stored := *rec
	err := r.db.QueryRowContext(ctx, query,
		rec.Longitude,
		rec.Latitude,
		nullString(rec.Address),
		rec.Timestamp,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert location: %w", err)
	}

	r.logger.Debug("Location saved",
		zap.Int64("id", stored.ID),
		zap.Int64("timestamp", stored.Timestamp),
	)
	return &stored, nil
}

// InsertSensor 写入传感器记录，返回带 id 的记录
func (r *StreamRepository) InsertSensor(ctx context.Context, rec *models.SensorRecord) (*models.SensorRecord, error) {
	query := `
		INSERT INTO sensors (step, calories, velocity, temperature, timestamp)
		VALUES ($1, $2, $3, $4, to_timestamp($5::double precision / 1000))
		RETURNING id
	`

	stored := *rec
	err := r.db.QueryRowContext(ctx, query,
		rec.StepCount,
		nullFloat(rec.Calories),
		nullFloat(rec.Velocity),
		nullFloat(rec.Temperature),
		rec.Timestamp,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sensor: %w", err)
	}

	r.logger.Debug("Sensor data saved",
		zap.Int64("id", stored.ID),
		zap.Int64("timestamp", stored.Timestamp),
	)
	return &stored, nil
}

// FetchRecentPositions 获取最近 limit 条定位记录（id 降序）
func (r *StreamRepository) FetchRecentPositions(ctx context.Context, limit int) ([]*models.PositionRecord, error) {
	query := `
		SELECT
			id,
			longitude,
			latitude,
			adresse,
			(EXTRACT(EPOCH FROM timestamp) * 1000)::BIGINT AS timestamp
		FROM locations
		ORDER BY id DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var results []*models.PositionRecord
	for rows.Next() {
		item := &models.PositionRecord{}
		var addr sql.NullString
		if err := rows.Scan(&item.ID, &item.Longitude, &item.Latitude, &addr, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		if addr.Valid {
			item.Address = &addr.String
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locations: %w", err)
	}

	return results, nil
}

// FetchRecentSensors 获取最近 limit 条传感器记录（id 降序）
func (r *StreamRepository) FetchRecentSensors(ctx context.Context, limit int) ([]*models.SensorRecord, error) {
	query := `
		SELECT
			id,
			step,
			calories,
			velocity,
			temperature,
			(EXTRACT(EPOCH FROM timestamp) * 1000)::BIGINT AS timestamp
		FROM sensors
		ORDER BY id DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	var results []*models.SensorRecord
	for rows.Next() {
		item := &models.SensorRecord{}
		var calories, velocity, temperature sql.NullFloat64
		if err := rows.Scan(&item.ID, &item.StepCount, &calories, &velocity, &temperature, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		item.Calories = floatPtr(calories)
		item.Velocity = floatPtr(velocity)
		item.Temperature = floatPtr(temperature)
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensors: %w", err)
	}

	return results, nil
}

// InsertMessage 写入文本消息，返回消息 id
func (r *StreamRepository) InsertMessage(ctx context.Context, text string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (text_content) VALUES ($1) RETURNING id`,
		text,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return id, nil
}

// MarkMessageRead 标记消息为已读
func (r *StreamRepository) MarkMessageRead(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message %d read: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark message %d read: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrMessageNotFound, id)
	}
	return nil
}

// FetchUnreadMessages 获取所有未读消息（id 升序）
func (r *StreamRepository) FetchUnreadMessages(ctx context.Context) ([]*models.Message, error) {
	query := `
		SELECT
			id,
			text_content,
			is_read,
			(EXTRACT(EPOCH FROM created_at) * 1000)::BIGINT AS created_at
		FROM messages
		WHERE is_read = FALSE
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread messages: %w", err)
	}
	defer rows.Close()

	var results []*models.Message
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(&m.ID, &m.Text, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return results, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
