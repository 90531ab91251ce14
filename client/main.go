// Command carewire is a terminal client for the relay: it listens for calls
// and notifications, places calls and publishes admin messages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/config"
	"github.com/nzlov/carewire/internal/logging"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "carewire",
		Short:         "Signaling, pub/sub and reminder client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default ./config.yaml)")
	root.AddCommand(
		buildListenCmd(&configPath),
		buildCallCmd(&configPath),
		buildPublishCmd(&configPath),
	)
	return root
}

// setup loads the config and installs the global logger.
func setup(configPath string) (*config.Client, *zap.SugaredLogger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, restore, err := logging.Install(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log.Sugar(), restore, nil
}
