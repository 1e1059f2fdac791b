package cmd

import (
	"context"

	"github.com/RezaEskandarii/csvimport/app"
	"github.com/RezaEskandarii/csvimport/types/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func serveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: "Serve the HTTP API. With the memory broker the workers run in the same " +
			"process, with the inline broker tasks run inside the upload request.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(v, serve)
		},
	}
}

func serve(ctx context.Context, c *app.Container) error {
	g, ctx := errgroup.WithContext(ctx)

	if c.Config.BrokerDriver == config.InMemory {
		g.Go(func() error {
			return runWorker(ctx, c)
		})
	} else {
		if err := c.Monitor.Start(c.Config.MonitorSchedule); err != nil {
			return err
		}
		defer c.Monitor.Stop()
	}

	g.Go(func() error {
		return c.RouteHandler().Serve(ctx)
	})
	return g.Wait()
}
