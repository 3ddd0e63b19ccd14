package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quotapace/quotapace/internal/core"
)

// LoadPacingState returns the persisted controller state, or nil when none
// has been saved yet.
func (s *Store) LoadPacingState(ctx context.Context) (*core.ControllerState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		state      core.ControllerState
		aggressive int
		updatedAt  sql.NullInt64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT current_interval, min_interval, max_interval, target_remaining_ratio, aggressive, learning_rate, updated_at
		FROM pacing_state
		WHERE id = 1
	`)
	if err := row.Scan(
		&state.CurrentInterval,
		&state.Config.MinInterval,
		&state.Config.MaxInterval,
		&state.Config.TargetRemainingRatio,
		&aggressive,
		&state.Config.LearningRate,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch pacing state: %w", err)
	}
	state.Config.Aggressive = aggressive == 1
	state.UpdatedAt = fromNullNanos(updatedAt)

	samples, err := s.loadSamples(ctx)
	if err != nil {
		return nil, err
	}
	state.Samples = samples

	quotas, err := s.ListQuotas(ctx, StateQuery{All: true})
	if err != nil {
		return nil, err
	}
	state.Quotas = make(map[string]core.QuotaStatus, len(quotas))
	for _, entry := range quotas {
		state.Quotas[entry.Endpoint] = entry.Status
	}

	return &state, nil
}

func (s *Store) loadSamples(ctx context.Context) ([]core.PerformanceSample, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT recorded_at, endpoint, remaining_ratio, interval_seconds, reset_at
		FROM pacing_samples
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list pacing samples: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	samples := []core.PerformanceSample{}
	for rows.Next() {
		var (
			sample     core.PerformanceSample
			recordedAt int64
			resetAt    sql.NullInt64
		)
		if err := rows.Scan(&recordedAt, &sample.Endpoint, &sample.RemainingRatio, &sample.IntervalSeconds, &resetAt); err != nil {
			return nil, fmt.Errorf("scan pacing samples: %w", err)
		}
		sample.Timestamp = time.Unix(0, recordedAt).UTC()
		sample.ResetAt = fromNullNanos(resetAt)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pacing samples: %w", err)
	}
	return samples, nil
}

// SavePacingState replaces the persisted controller state in one transaction.
func (s *Store) SavePacingState(ctx context.Context, state *core.ControllerState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if state == nil {
		return errors.New("pacing state is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pacing save: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	aggressive := 0
	if state.Config.Aggressive {
		aggressive = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pacing_state (id, current_interval, min_interval, max_interval, target_remaining_ratio, aggressive, learning_rate, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_interval = excluded.current_interval,
			min_interval = excluded.min_interval,
			max_interval = excluded.max_interval,
			target_remaining_ratio = excluded.target_remaining_ratio,
			aggressive = excluded.aggressive,
			learning_rate = excluded.learning_rate,
			updated_at = excluded.updated_at
	`, state.CurrentInterval, state.Config.MinInterval, state.Config.MaxInterval,
		state.Config.TargetRemainingRatio, aggressive, state.Config.LearningRate, toNullNanos(state.UpdatedAt)); err != nil {
		return fmt.Errorf("store pacing state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pacing_samples`); err != nil {
		return fmt.Errorf("clear pacing samples: %w", err)
	}
	for _, sample := range state.Samples {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pacing_samples (recorded_at, endpoint, remaining_ratio, interval_seconds, reset_at)
			VALUES (?, ?, ?, ?, ?)
		`, sample.Timestamp.UnixNano(), sample.Endpoint, sample.RemainingRatio, sample.IntervalSeconds, toNullNanos(sample.ResetAt)); err != nil {
			return fmt.Errorf("store pacing sample: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM quota_status`); err != nil {
		return fmt.Errorf("clear quota status: %w", err)
	}
	for endpoint, status := range state.Quotas {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quota_status (endpoint, quota_limit, remaining, reset_at, window_seconds)
			VALUES (?, ?, ?, ?, ?)
		`, endpoint, status.Limit, status.Remaining, toNullNanos(status.ResetAt), status.WindowSeconds); err != nil {
			return fmt.Errorf("store quota status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pacing save: %w", err)
	}
	return nil
}

func toNullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64).UTC()
}
