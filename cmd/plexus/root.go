package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/plexus/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "plexus",
		Short: "In-process plugin message bus",
		Long: `plexus routes categorized messages between plugins over one or more
channels, tracks the capabilities plugins provide, and arranges plugins in a
parent/child hierarchy. Lua plugins are discovered from the configured plugin
directories.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (.toml or .yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newDemoCmd(flags),
		newConfigCmd(flags),
		newRunLuaCmd(flags),
		newVersionCmd(),
	)
	return root
}

// load reads the config file named by --config (defaults and PLEXUS_
// environment variables when none is given) and applies flag overrides.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
