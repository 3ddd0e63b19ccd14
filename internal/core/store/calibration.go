package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/quotapace/quotapace/internal/core"
)

// CalibrationRecord is a committed calibration run.
type CalibrationRecord struct {
	Result     core.CalibrationResult `json:"result"`
	FinishedAt time.Time              `json:"finished_at"`
}

// RecordCalibration stores a calibration outcome for later inspection.
func (s *Store) RecordCalibration(ctx context.Context, result core.CalibrationResult, finishedAt time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(result.RunID) == "" {
		return errors.New("calibration run id is required")
	}

	trials, err := json.Marshal(result.Trials)
	if err != nil {
		return fmt.Errorf("encode calibration trials: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO calibration_runs (run_id, optimal_interval, fallback, aborted, recommendation, duration_ms, trials, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, result.RunID, result.Optimal, boolInt(result.Fallback), boolInt(result.Aborted),
		result.Recommendation, result.Duration.Milliseconds(), string(trials), finishedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("store calibration run: %w", err)
	}
	return nil
}

// ListCalibrations returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListCalibrations(ctx context.Context, limit int) ([]CalibrationRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT run_id, optimal_interval, fallback, aborted, recommendation, duration_ms, trials, finished_at
		FROM calibration_runs
		ORDER BY finished_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calibration runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []CalibrationRecord{}
	for rows.Next() {
		var (
			record     CalibrationRecord
			fallback   int
			aborted    int
			durationMS int64
			trials     string
			finishedAt int64
		)
		if err := rows.Scan(&record.Result.RunID, &record.Result.Optimal, &fallback, &aborted,
			&record.Result.Recommendation, &durationMS, &trials, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan calibration runs: %w", err)
		}
		if err := json.Unmarshal([]byte(trials), &record.Result.Trials); err != nil {
			return nil, fmt.Errorf("decode calibration trials: %w", err)
		}
		record.Result.Fallback = fallback == 1
		record.Result.Aborted = aborted == 1
		record.Result.Duration = time.Duration(durationMS) * time.Millisecond
		record.FinishedAt = time.Unix(0, finishedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list calibration runs: %w", err)
	}
	return records, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
