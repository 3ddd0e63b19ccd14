package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"

	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/core/engine"
	"github.com/quotapace/quotapace/internal/core/store"
	"github.com/quotapace/quotapace/internal/metrics"
	"github.com/quotapace/quotapace/internal/probe"
)

// Probe outcomes used as metric labels.
const (
	outcomeOK            = "ok"
	outcomeQuotaExceeded = "quota_exceeded"
	outcomeHTTPError     = "http_error"
	outcomeError         = "error"
)

func loadConfig(overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(nil, overrides...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	backend, err := store.OpenBackend(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return backend, nil
}

// newController builds a controller from the pacing config. state and prober
// may be nil.
func newController(ctx context.Context, cfg *config.Config, state engine.StateStore, prober engine.Prober, logger *logging.Logger) (*engine.Controller, error) {
	defaults, err := cfg.Pacing.ControllerDefaults()
	if err != nil {
		return nil, err
	}
	return engine.NewController(ctx, engine.Options{
		Store:               state,
		Prober:              prober,
		Logger:              logger,
		Recorder:            metrics.PacingRecorder{},
		Defaults:            defaults,
		BackoffFactor:       cfg.Pacing.BackoffFactor,
		WaitSlice:           cfg.Pacing.WaitSlice,
		CriticalThreshold:   cfg.Pacing.CriticalThreshold,
		CalibrationLadder:   cfg.Pacing.CalibrationLadder,
		CalibrationCooldown: cfg.Pacing.CalibrationCooldown,
		PersistTimeout:      cfg.Pacing.PersistTimeout,
	}), nil
}

// readOnlyState loads persisted state but never writes it back, so inspection
// commands leave the store untouched.
type readOnlyState struct {
	backend store.Backend
}

func (r readOnlyState) LoadPacingState(ctx context.Context) (*core.ControllerState, error) {
	return r.backend.LoadPacingState(ctx)
}

func (readOnlyState) SavePacingState(context.Context, *core.ControllerState) error {
	return nil
}

// resolveTargets prefers URLs given on the command line over configured targets.
func resolveTargets(cfg *config.Config, urls []string) ([]config.TargetConfig, error) {
	if len(urls) == 0 {
		if len(cfg.Probe.Targets) == 0 {
			return nil, stderrors.New("no targets: pass --url or configure probe.targets")
		}
		return cfg.Probe.Targets, nil
	}

	targets := make([]config.TargetConfig, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, fmt.Errorf("invalid target url %q", raw)
		}
		name := config.TargetName(raw)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		targets = append(targets, config.TargetConfig{Name: name, URL: raw})
	}
	return targets, nil
}

// meteredProber records every call's outcome and advertised quota.
type meteredProber struct {
	name  string
	inner engine.Prober
}

func (m meteredProber) Probe(ctx context.Context) (*core.QuotaStatus, error) {
	status, err := m.inner.Probe(ctx)
	if status != nil {
		metrics.RecordQuota(m.name, *status)
	}
	metrics.RecordProbe(m.name, probeOutcome(err))
	return status, err
}

func probeOutcome(err error) string {
	var statusErr *probe.StatusError
	switch {
	case err == nil:
		return outcomeOK
	case stderrors.Is(err, core.ErrQuotaExceeded):
		return outcomeQuotaExceeded
	case stderrors.As(err, &statusErr):
		return outcomeHTTPError
	default:
		return outcomeError
	}
}

func newProber(cfg config.ProbeConfig, target config.TargetConfig) engine.Prober {
	return meteredProber{
		name: target.Name,
		inner: &probe.HTTPProber{
			Client:      &http.Client{Timeout: cfg.Timeout},
			Method:      cfg.Method,
			URL:         target.URL,
			Headers:     cfg.Headers,
			BearerToken: cfg.BearerToken,
			UserAgent:   cfg.UserAgent,
		},
	}
}

func newTargets(cfg config.ProbeConfig, targets []config.TargetConfig) []engine.Target {
	out := make([]engine.Target, 0, len(targets))
	for _, target := range targets {
		out = append(out, engine.Target{Name: target.Name, Prober: newProber(cfg, target)})
	}
	return out
}
