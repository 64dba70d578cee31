package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/fleetgazer/internal/models"
)

// HistoryRepository 车辆历史轨迹仓库
// 每个被接受的带位置更新落一行，供历史回放查询
type HistoryRepository struct {
	db *DB
}

func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append 追加一条轨迹点
func (r *HistoryRepository) Append(ctx context.Context, p *models.HistoryPoint) error {
	query := `
		INSERT INTO vehicle_positions (vehicle_id, latitude, longitude, speed, temperature, fuel, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		p.VehicleID, p.Latitude, p.Longitude, p.Speed, p.Temperature, p.Fuel, p.RecordedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// ListByVehicle 按时间范围查询车辆轨迹，recorded_at 升序
// from/to 为零值时不限制对应边界，limit <= 0 时取默认 1000
func (r *HistoryRepository) ListByVehicle(ctx context.Context, vehicleID string, from, to time.Time, limit int) ([]*models.HistoryPoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	if to.IsZero() {
		to = time.Now()
	}

	query := `
		SELECT id, vehicle_id, latitude, longitude, speed, temperature, fuel, recorded_at
		FROM vehicle_positions
		WHERE vehicle_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at ASC
		LIMIT $4`

	rows, err := r.db.Pool.Query(ctx, query, vehicleID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var points []*models.HistoryPoint
	for rows.Next() {
		p := &models.HistoryPoint{}
		if err := rows.Scan(
			&p.ID, &p.VehicleID, &p.Latitude, &p.Longitude,
			&p.Speed, &p.Temperature, &p.Fuel, &p.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}
