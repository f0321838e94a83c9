package results

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"GazeTrialRunner/internal/config"
	"GazeTrialRunner/internal/trial"
)

// Store 试次结果库。可选组件：实验完成后把试次历史落入PostgreSQL，
// 供跨会话的离线分析查询
type Store struct {
	pool *pgxpool.Pool
}

// Connect 建立结果库连接池
func Connect(ctx context.Context, cfg config.ResultsConfig) (*Store, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse results dsn: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create results pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping results database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// EnsureSchema 建表（幂等）
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trial_results (
			id           BIGSERIAL PRIMARY KEY,
			run_id       TEXT NOT NULL,
			data_file    TEXT NOT NULL,
			trial_index  INT NOT NULL,
			left_image   TEXT NOT NULL,
			right_image  TEXT NOT NULL,
			onset        TIMESTAMPTZ NOT NULL,
			reaction_ms  BIGINT NOT NULL,
			result_code  INT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (run_id, trial_index)
		)`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveRun 写入一次运行的全部已完成试次
func (s *Store) SaveRun(ctx context.Context, runID, dataFile string, trials []*trial.Trial) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin results tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trials {
		_, err := tx.Exec(ctx, `
			INSERT INTO trial_results
				(run_id, data_file, trial_index, left_image, right_image, onset, reaction_ms, result_code)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			runID, dataFile, t.Index, t.LeftName, t.RightName, t.Onset, t.ReactionMS, t.Result)
		if err != nil {
			return fmt.Errorf("insert trial %d: %w", t.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit results tx: %w", err)
	}
	return nil
}

// Close 关闭连接池
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
