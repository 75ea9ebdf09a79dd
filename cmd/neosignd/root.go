package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagEnvFile string

	cfg daemonConfig
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "neosignd",
		Short: "NeoSign MFA step-up and eIDAS compliance daemon",
		Long: `neosignd runs the NeoSign step-up authentication engine.

  neosignd serve                   Start the HTTP API
  neosignd report signature.json   Print the eIDAS compliance report of a signature
  neosignd loadtest                Hammer code verification and check single use`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadConfig(flagConfig, flagEnvFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a TOML config file")
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "Path to a dotenv file")

	root.AddCommand(newServeCmd(), newReportCmd(), newLoadtestCmd())
	return root
}
