package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/plexus/internal/app"
	"github.com/dshills/plexus/internal/bus"
)

const shutdownTimeout = 5 * time.Second

func newDemoCmd(flags *globalFlags) *cobra.Command {
	var (
		multi    bool
		channels int
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the sample plugins through the bus",
		Long: `Start a runtime, attach a handful of sample plugins, and run the
publish, request/response, batching and hierarchy scenarios. Statistics are
printed at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if multi {
				cfg.Bus.Mode = bus.ModeMulti.String()
			}
			if cmd.Flags().Changed("channels") {
				cfg.Bus.Channels = channels
			}

			r, err := app.New(cfg, app.WithDiscovery(false))
			if err != nil {
				return err
			}
			defer shutdown(cmd, r)

			if err := r.Start(cmd.Context()); err != nil {
				return err
			}
			_, err = app.RunDemo(cmd.Context(), r, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().BoolVar(&multi, "multi", false, "use multi channel mode")
	cmd.Flags().IntVar(&channels, "channels", bus.DefaultMultiChannels, "channel count in multi channel mode")
	return cmd
}

// shutdown stops r with a bounded wait. The log output is closed by then,
// so failures go to the command's stderr.
func shutdown(cmd *cobra.Command, r *app.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
	}
}
