package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB 数据库连接池
type DB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// New 创建连接池并检查连通性
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connected")
	return &DB{Pool: pool, logger: logger}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行建表迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS vehicle_positions (
			id BIGSERIAL PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			fuel DOUBLE PRECISION,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicle_positions_vehicle_time
			ON vehicle_positions (vehicle_id, recorded_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}

	db.logger.Info("Database migrations applied")
	return nil
}
