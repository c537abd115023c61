package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/plexus/internal/app"
)

func newRunLuaCmd(flags *globalFlags) *cobra.Command {
	var (
		parent   string
		duration time.Duration
		discover bool
	)

	cmd := &cobra.Command{
		Use:   "run-lua <script.lua|plugin-dir>...",
		Short: "Attach Lua plugins and run until interrupted",
		Long: `Attach the given Lua scripts or plugin directories and keep the runtime
running until SIGINT or SIGTERM (or --duration elapses). When --config is
given the file is watched and changes are applied without a restart.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			r, err := app.New(cfg,
				app.WithConfigPath(flags.configPath),
				app.WithWatch(flags.configPath != ""),
				app.WithDiscovery(discover),
			)
			if err != nil {
				return err
			}
			defer shutdown(cmd, r)

			ctx := cmd.Context()
			if err := r.Start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, path := range args {
				name, err := r.AttachScript(ctx, path, parent)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "attached %s\n", name)
			}

			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			<-ctx.Done()

			s := r.Stats()
			fmt.Fprintf(out, "published=%d delivered=%d errors=%d panics=%d\n",
				s.Bus.Published, s.Bus.Delivered, s.Bus.HandlerErrors, s.Bus.HandlerPanics)
			return nil
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "attach every script under this plugin")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&discover, "discover", false, "also attach plugins found in plugins.paths")
	return cmd
}
