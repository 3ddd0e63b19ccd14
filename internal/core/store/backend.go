package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/core"
)

// Backend is the persistence surface shared by the libsql and file drivers.
type Backend interface {
	LoadPacingState(ctx context.Context) (*core.ControllerState, error)
	SavePacingState(ctx context.Context, state *core.ControllerState) error
	ListQuotas(ctx context.Context, q StateQuery) ([]QuotaEntry, error)
	CountQuotas(ctx context.Context, q StateQuery) (int, error)
	ResetState(ctx context.Context, q StateQuery) (ResetSummary, error)
	RecordCalibration(ctx context.Context, result core.CalibrationResult, finishedAt time.Time) error
	ListCalibrations(ctx context.Context, limit int) ([]CalibrationRecord, error)
	Describe() string
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*FileStore)(nil)
)

// OpenBackend opens and migrates the configured backend.
func OpenBackend(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", driverLibsql:
		s, err := Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case driverFile:
		return OpenFile(cfg.StatePath)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
