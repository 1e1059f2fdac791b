package cmd

import (
	"context"

	"github.com/RezaEskandarii/csvimport/app"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	log "github.com/sirupsen/logrus"
)

func migrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// building the container runs the schema scripts
			return withContainer(v, func(ctx context.Context, c *app.Container) error {
				log.WithField("driver", c.Config.StorageDriver.String()).Info("database schema is up to date")
				return nil
			})
		},
	}
}
