// Package cmd implements the microapp command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// DefaultEnvPrefix prefixes the environment variables overriding the config file.
const DefaultEnvPrefix = "MICROAPP"

type globalOptions struct {
	configPath string
	envPrefix  string
}

// NewRootCommand creates the root command for the microapp binary
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "microapp",
		Short: "Micro-frontend orchestrator",
		Long: `microapp hosts independently loaded applications behind one router.
It decides which application is active for the current location and drives
each application through load, bootstrap, mount, update, unmount and unload.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "microapp.yaml", "configuration file (.yaml, .yml or .toml)")
	cmd.PersistentFlags().StringVar(&opts.envPrefix, "env-prefix", DefaultEnvPrefix, "prefix of environment overrides, empty to disable")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	return cmd
}

// PrintVersion returns the version line.
func PrintVersion() string {
	return fmt.Sprintf("%s (commit: %s, built on: %s)", Version, Commit, Date)
}
