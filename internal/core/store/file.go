package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/quotapace/quotapace/internal/core"
)

// maxFileCalibrations bounds the calibration history kept in a snapshot.
const maxFileCalibrations = 20

// corruptSuffix is appended to a snapshot that could not be decoded before it
// is replaced.
const corruptSuffix = ".corrupt"

var errCorruptSnapshot = errors.New("corrupt state file")

// fileSnapshot is the on-disk layout of a FileStore.
type fileSnapshot struct {
	State        *core.ControllerState `json:"state,omitempty"`
	Calibrations []CalibrationRecord   `json:"calibrations,omitempty"`
}

// FileStore keeps pacing state in a single JSON document. Writes go to a
// temporary file that is renamed over the target.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// OpenFile prepares a JSON file store at path. The file is created on first save.
func OpenFile(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state path is required")
	}
	if err := ensureStoreDir(path); err != nil {
		return nil, err
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

// Path returns the snapshot location.
func (f *FileStore) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Describe returns the driver and location.
func (f *FileStore) Describe() string {
	return driverFile + " " + f.Path()
}

// Close is a no-op; every write is flushed before it returns.
func (f *FileStore) Close() error {
	return nil
}

// LoadPacingState returns the persisted state, or nil when the file is absent.
func (f *FileStore) LoadPacingState(ctx context.Context) (*core.ControllerState, error) {
	if f == nil {
		return nil, errors.New("store is not initialized")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.read()
	if err != nil {
		return nil, err
	}
	return snapshot.State, nil
}

// SavePacingState replaces the persisted state.
func (f *FileStore) SavePacingState(ctx context.Context, state *core.ControllerState) error {
	if f == nil {
		return errors.New("store is not initialized")
	}
	if state == nil {
		return errors.New("pacing state is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.readForWrite()
	if err != nil {
		return err
	}
	snapshot.State = state.Clone()
	return f.write(ctx, snapshot)
}

// ListQuotas returns persisted quotas ordered by endpoint.
func (f *FileStore) ListQuotas(ctx context.Context, q StateQuery) ([]QuotaEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	state, err := f.LoadPacingState(ctx)
	if err != nil {
		return nil, err
	}

	entries := []QuotaEntry{}
	if state == nil {
		return entries, nil
	}
	for endpoint, status := range state.Quotas {
		if q.Matches(endpoint) {
			entries = append(entries, QuotaEntry{Endpoint: endpoint, Status: status})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Endpoint < entries[j].Endpoint })
	return entries, nil
}

// CountQuotas counts persisted quotas matching q.
func (f *FileStore) CountQuotas(ctx context.Context, q StateQuery) (int, error) {
	entries, err := f.ListQuotas(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ResetState removes quotas and samples matching q. A reset of everything also
// drops the controller state itself.
func (f *FileStore) ResetState(ctx context.Context, q StateQuery) (ResetSummary, error) {
	var summary ResetSummary
	if f == nil {
		return summary, errors.New("store is not initialized")
	}
	if err := q.Validate(); err != nil {
		return summary, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.readForWrite()
	if err != nil {
		return summary, err
	}
	state := snapshot.State
	if state == nil {
		return summary, nil
	}

	for endpoint := range state.Quotas {
		if q.Matches(endpoint) {
			delete(state.Quotas, endpoint)
			summary.Quotas++
		}
	}
	kept := state.Samples[:0]
	for _, sample := range state.Samples {
		if q.Matches(sample.Endpoint) {
			summary.Samples++
			continue
		}
		kept = append(kept, sample)
	}
	state.Samples = kept

	if q.All {
		snapshot.State = nil
		summary.State = true
	}
	return summary, f.write(ctx, snapshot)
}

// RecordCalibration appends a calibration outcome, keeping the most recent runs.
func (f *FileStore) RecordCalibration(ctx context.Context, result core.CalibrationResult, finishedAt time.Time) error {
	if f == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(result.RunID) == "" {
		return errors.New("calibration run id is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.readForWrite()
	if err != nil {
		return err
	}
	for _, existing := range snapshot.Calibrations {
		if existing.Result.RunID == result.RunID {
			return nil
		}
	}
	snapshot.Calibrations = append([]CalibrationRecord{{Result: result, FinishedAt: finishedAt.UTC()}}, snapshot.Calibrations...)
	if len(snapshot.Calibrations) > maxFileCalibrations {
		snapshot.Calibrations = snapshot.Calibrations[:maxFileCalibrations]
	}
	return f.write(ctx, snapshot)
}

// ListCalibrations returns the most recent runs first. limit <= 0 returns all.
func (f *FileStore) ListCalibrations(ctx context.Context, limit int) ([]CalibrationRecord, error) {
	if f == nil {
		return nil, errors.New("store is not initialized")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.read()
	if err != nil {
		return nil, err
	}
	records := append([]CalibrationRecord{}, snapshot.Calibrations...)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (f *FileStore) read() (*fileSnapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileSnapshot{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	snapshot := &fileSnapshot{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return snapshot, nil
	}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w: %w", f.path, errCorruptSnapshot, err)
	}
	if snapshot.State != nil && snapshot.State.Quotas == nil {
		snapshot.State.Quotas = map[string]core.QuotaStatus{}
	}
	return snapshot, nil
}

// readForWrite is read for callers about to replace the file. An undecodable
// snapshot is moved aside to <path>.corrupt and an empty one is returned, so
// the next write recreates the record.
func (f *FileStore) readForWrite() (*fileSnapshot, error) {
	snapshot, err := f.read()
	if err == nil || !errors.Is(err, errCorruptSnapshot) {
		return snapshot, err
	}
	if renameErr := os.Rename(f.path, f.path+corruptSuffix); renameErr != nil {
		return nil, fmt.Errorf("set aside corrupt state file: %w", renameErr)
	}
	return &fileSnapshot{}, nil
}

func (f *FileStore) write(ctx context.Context, snapshot *fileSnapshot) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("write state file: %w", err)
		}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // nolint:errcheck // already renamed on success

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
