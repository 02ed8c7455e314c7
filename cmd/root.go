// Package cmd holds the CLI entry points for the camera fleet
// control plane.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/camerafleet/orchestrator/internal/config"
)

const version = "0.1.0"

var (
	flagConfigDir string
	flagSilent    bool
	flagVerbose   bool
	flagVersion   bool
)

var logger = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Local control plane for a fleet of edge AI camera devices",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case flagSilent:
			logger.SetLevel(logrus.ErrorLevel)
		case flagVerbose:
			logger.SetLevel(logrus.DebugLevel)
		default:
			logger.SetLevel(logrus.InfoLevel)
		}
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagVersion {
			fmt.Println(version)
			return nil
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Directory holding the configuration file (default: $XDG_CONFIG_HOME/camerafleet)")
	rootCmd.PersistentFlags().BoolVarP(&flagSilent, "silent", "s", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug detail")
	rootCmd.Flags().BoolVar(&flagVersion, "version", false, "Print the version and exit")
}

// Execute runs the CLI. Broker, connection, and validation failures
// exit 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configDir() string {
	if flagConfigDir != "" {
		return flagConfigDir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "camerafleet")
}

// loadConfig opens the persisted configuration, creating an empty one
// on first run.
func loadConfig() (*config.Config, error) {
	dir := configDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return config.New(config.OnDisk{Path: filepath.Join(dir, "config.json")}, logger)
}
