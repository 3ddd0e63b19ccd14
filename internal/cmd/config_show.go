package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quotapace/quotapace/internal/config"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		payload, err := yaml.Marshal(redactConfig(*cfg))
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(payload)
		return err
	},
}

func redactConfig(cfg config.Config) config.Config {
	if cfg.Store.AuthToken != "" {
		cfg.Store.AuthToken = redacted
	}
	if cfg.Probe.BearerToken != "" {
		cfg.Probe.BearerToken = redacted
	}
	if len(cfg.Probe.Headers) > 0 {
		headers := make(map[string]string, len(cfg.Probe.Headers))
		for key, value := range cfg.Probe.Headers {
			if http.CanonicalHeaderKey(key) == "Authorization" {
				value = redacted
			}
			headers[key] = value
		}
		cfg.Probe.Headers = headers
	}
	return cfg
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}
