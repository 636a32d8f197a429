package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/pipump/config"
	"github.com/kilianp07/pipump/core/pump"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and print the pump chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		ps, err := config.BuildPumps(cfg.Pumps, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range pump.Order(ps) {
			line := fmt.Sprintf("%s %dW %s", p.Name(), p.Power(), p.DesiredRuntime())
			if up := p.Upstream(); up != nil {
				line += " after " + up.Name()
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out, "configuration OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
