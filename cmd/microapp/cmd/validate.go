package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/microapp/config"
)

// NewValidateCommand creates the validate command
func NewValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Long:  `Load the configuration file and environment overrides, validate them and list the declared applications.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(opts.configPath, opts.envPrefix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration %s is valid: container %q, %d application(s)\n", opts.configPath, cfg.Name, len(cfg.Apps))
			if len(cfg.Apps) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tACTIVE RULE\tTARGET\tSCRIPTS")
			for _, a := range cfg.Apps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", a.Name, a.ActiveRule, a.Target, len(a.Scripts))
			}
			return tw.Flush()
		},
	}
}
