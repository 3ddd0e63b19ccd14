package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotapace/quotapace/internal/observability"
)

func TestLoggers(t *testing.T) {
	t.Run("CLI logger", func(t *testing.T) {
		observability.InitCLILogger("quotapace-test", "info", false)
		require.NotNil(t, observability.CLILogger)

		observability.CLILogger.Info("Test CLI log message", zap.String("test", "value"))
	})

	t.Run("CLI logger debug level", func(t *testing.T) {
		observability.InitCLILogger("quotapace-test", "debug", false)
		require.NotNil(t, observability.CLILogger)
		observability.CLILogger.Debug("Debug message", zap.String("mode", "verbose"))
	})

	t.Run("Logger prefers structured", func(t *testing.T) {
		observability.ServerLogger = nil
		observability.InitCLILogger("quotapace-test", "info", true)
		require.Same(t, observability.CLILogger, observability.Logger())

		observability.InitServerLogger("quotapace-test", "warn", "quotapace")
		require.NotNil(t, observability.ServerLogger)
		require.Same(t, observability.ServerLogger, observability.Logger())

		observability.ServerLogger.Warn("Test structured log message",
			zap.String("component", "pacer"),
			zap.Int("interval", 120))
		observability.ServerLogger = nil
	})
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" info ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
		"":        "INFO",
	}
	for input, want := range cases {
		require.Equal(t, want, observability.ParseLogLevel(input), "input %q", input)
	}
}

func TestInitMetrics(t *testing.T) {
	require.NoError(t, observability.InitMetrics("quotapace_test", 0))
	t.Cleanup(func() { _ = observability.ShutdownMetrics() })

	require.NotNil(t, observability.TelemetrySystem)
	require.NotNil(t, observability.PrometheusExporter)
	require.Positive(t, observability.GetMetricsPort())

	require.NoError(t, observability.ShutdownMetrics())
	require.Nil(t, observability.TelemetrySystem)
	require.NoError(t, observability.ShutdownMetrics())
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	require.NotEmpty(t, version.Gofulmen)
	require.NotEmpty(t, version.Crucible)
}
