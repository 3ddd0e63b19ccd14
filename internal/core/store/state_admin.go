package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/quotapace/quotapace/internal/core"
)

// QuotaEntry is one persisted endpoint quota.
type QuotaEntry struct {
	Endpoint string           `json:"endpoint"`
	Status   core.QuotaStatus `json:"status"`
}

// StateQuery selects persisted endpoints for inspection or reset.
type StateQuery struct {
	All      bool
	Endpoint string
	Prefix   string
}

// ResetSummary counts what a reset removed.
type ResetSummary struct {
	Quotas  int64 `json:"quotas"`
	Samples int64 `json:"samples"`
	State   bool  `json:"state"`
}

func (q StateQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Endpoint) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --endpoint, or --prefix")
}

// Matches reports whether endpoint falls under the query.
func (q StateQuery) Matches(endpoint string) bool {
	if q.All {
		return true
	}
	if value := strings.TrimSpace(q.Endpoint); value != "" {
		return endpoint == value
	}
	prefix := strings.TrimSpace(q.Prefix)
	return prefix != "" && strings.HasPrefix(endpoint, prefix)
}

func (q StateQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if endpoint := strings.TrimSpace(q.Endpoint); endpoint != "" {
		return "WHERE endpoint = ?", []any{endpoint}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE endpoint LIKE ?", []any{prefix + "%"}, nil
}

// ListQuotas returns persisted quotas ordered by endpoint.
func (s *Store) ListQuotas(ctx context.Context, q StateQuery) ([]QuotaEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT endpoint, quota_limit, remaining, reset_at, window_seconds
		FROM quota_status
		%s
		ORDER BY endpoint
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []QuotaEntry{}
	for rows.Next() {
		var entry QuotaEntry
		var resetAt sql.NullInt64
		if err := rows.Scan(&entry.Endpoint, &entry.Status.Limit, &entry.Status.Remaining, &resetAt, &entry.Status.WindowSeconds); err != nil {
			return nil, fmt.Errorf("scan quotas: %w", err)
		}
		entry.Status.ResetAt = fromNullNanos(resetAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}

	return entries, nil
}

// CountQuotas counts persisted quotas matching q.
func (s *Store) CountQuotas(ctx context.Context, q StateQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM quota_status
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count quotas: %w", err)
	}
	return count, nil
}

// ResetState deletes quotas and samples matching q. A reset of everything also
// drops the pacing row so the next start uses configured defaults.
func (s *Store) ResetState(ctx context.Context, q StateQuery) (ResetSummary, error) {
	var summary ResetSummary
	if s == nil || s.DB == nil {
		return summary, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return summary, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("reset state: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM quota_status %s`, where), args...)
	if err != nil {
		return summary, fmt.Errorf("reset quotas: %w", err)
	}
	if summary.Quotas, err = result.RowsAffected(); err != nil {
		return summary, fmt.Errorf("reset quotas: %w", err)
	}

	result, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM pacing_samples %s`, where), args...)
	if err != nil {
		return summary, fmt.Errorf("reset samples: %w", err)
	}
	if summary.Samples, err = result.RowsAffected(); err != nil {
		return summary, fmt.Errorf("reset samples: %w", err)
	}

	if q.All {
		result, err = tx.ExecContext(ctx, `DELETE FROM pacing_state`)
		if err != nil {
			return summary, fmt.Errorf("reset pacing state: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return summary, fmt.Errorf("reset pacing state: %w", err)
		}
		summary.State = affected > 0
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("reset state: %w", err)
	}
	return summary, nil
}
