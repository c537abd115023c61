package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/plexus/internal/config"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or show plexus configuration",
		Long: `Validate or show plexus configuration.

Configuration is layered: built-in defaults, then the file given with
--config, then PLEXUS_ environment variables (e.g. PLEXUS_BUS_MODE=multi,
PLEXUS_BATCH_WINDOW=100ms).`,
	}
	cmd.AddCommand(newConfigValidateCmd(), newConfigShowCmd(flags))
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			data, err := config.Encode(cfg, f)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", string(config.FormatTOML), "output format (toml or yaml)")
	return cmd
}
