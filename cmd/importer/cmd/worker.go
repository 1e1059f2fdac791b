package cmd

import (
	"context"
	"errors"

	"github.com/RezaEskandarii/csvimport/app"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func workerCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume import tasks from the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(v, runWorker)
		},
	}
}

// runWorker consumes tasks and runs the stale job monitor until ctx is done.
func runWorker(ctx context.Context, c *app.Container) error {
	worker := c.Worker()
	if worker == nil {
		return errors.New("the inline broker has no queue to consume, use serve")
	}

	if err := c.RecoverTasks(ctx); err != nil {
		return err
	}
	if err := c.Monitor.Start(c.Config.MonitorSchedule); err != nil {
		return err
	}
	defer c.Monitor.Stop()

	return worker.Run(ctx)
}
