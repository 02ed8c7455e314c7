package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/camerafleet/orchestrator/internal/orchestrator"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the control plane against the local MQTT broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		o := orchestrator.New(cfg, filepath.Join(configDir(), "devices"), logger)
		if err := o.Start(ctx); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")

		o.Stop()
		cancel()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(brokerCmd)
}
