// Package serve provides the serve command.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/api"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/dataset"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the curation HTTP API",
		Long:  "Start the HTTP API. The server stops on SIGINT, SIGTERM or a request to the shutdown endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("port", "", "Port the HTTP API listens on")
	cmd.Flags().String("dataset", "", "Dataset opened on start")

	for key, name := range map[string]string{
		"webserver.port": "port",
		"data.default":   "dataset",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

func run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	manager := dataset.NewManager(settings,
		dataset.WithMetrics(metrics),
		dataset.WithLogger(logger.Global().Module("dataset")))
	defer func() {
		if err := manager.Close(); err != nil {
			log.Warn("closing dataset failed", logger.Error(err))
		}
	}()

	if name := settings.Data.Default; name != "" {
		if _, err := manager.Switch(ctx, name); err != nil {
			return fmt.Errorf("failed to open dataset %s: %w", name, err)
		}
	}

	srv, err := api.New(settings, manager, api.WithMetrics(metrics))
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
