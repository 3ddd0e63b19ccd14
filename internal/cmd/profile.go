package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/observability"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or switch the pacing profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active policy and the available presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		controller, err := newController(ctx, cfg, readOnlyState{backend: backend}, nil, nil)
		if err != nil {
			return err
		}

		policy := controller.Config()
		lines := []string{"Active policy", ""}
		lines = append(lines, policyLines(policy, controller.Interval())...)
		lines = append(lines, "", "Presets")
		for _, preset := range []core.Profile{core.SpeedProfile, core.StabilityProfile} {
			marker := " "
			if preset.Aggressive == policy.Aggressive {
				marker = "*"
			}
			lines = append(lines, fmt.Sprintf("%s %-10s %s", marker, preset.Name, preset.Description))
		}

		_, err = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return err
	},
}

var profileSetCmd = &cobra.Command{
	Use:       "set <aggressive|stable>",
	Short:     "Switch to a preset and persist it",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{core.SpeedProfile.Name, core.StabilityProfile.Name},
	RunE: func(cmd *cobra.Command, args []string) error {
		preset, err := core.FindProfile(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		controller, err := newController(ctx, cfg, backend, nil, observability.CLILogger)
		if err != nil {
			return err
		}
		controller.ApplyProfile(preset)

		lines := []string{fmt.Sprintf("Profile set: %s", preset.Name), ""}
		lines = append(lines, policyLines(controller.Config(), controller.Interval())...)
		_, err = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return err
	},
}

func policyLines(policy core.ControllerConfig, interval int) []string {
	name := core.StabilityProfile.Name
	if policy.Aggressive {
		name = core.SpeedProfile.Name
	}
	return []string{
		fmt.Sprintf("profile:           %s", name),
		fmt.Sprintf("interval:          %ds", interval),
		fmt.Sprintf("bounds:            %ds - %ds", policy.MinInterval, policy.MaxInterval),
		fmt.Sprintf("target remaining:  %.0f%%", policy.TargetRemainingRatio*100),
		fmt.Sprintf("learning rate:     %.2f", policy.LearningRate),
	}
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
}
