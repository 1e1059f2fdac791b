package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/RezaEskandarii/csvimport/app"
	"github.com/RezaEskandarii/csvimport/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "importer",
		Short:         "importer accepts CSV and XLSX uploads and imports them in the background",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			return logging.Configure(v.GetString("log_level"), v.GetString("log_format"))
		},
	}
	cmd.PersistentFlags().String("env-file", ".env", "file with IMPORTER_* variables, skipped when missing")

	cmd.AddCommand(
		serveCmd(v),
		workerCmd(v),
		migrateCmd(v),
	)
	return cmd
}

// loadEnvFile exports the variables of path without overriding the environment.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// withContainer builds the container from the environment and runs fn with a
// context that is cancelled on SIGINT or SIGTERM.
func withContainer(v *viper.Viper, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}
