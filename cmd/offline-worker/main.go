package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iTrooz/offline-worker/internal/config"
	"github.com/iTrooz/offline-worker/internal/logging"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "offline-worker",
		Short:         "Cache-first offline proxy with push notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	root.AddCommand(
		newServeCommand(&configPath),
		newPushCommand(),
		newGenerationsCommand(&configPath),
		newConfigCommand(&configPath),
	)
	root.SetOut(os.Stdout)
	return root
}

// loadConfig loads and validates the configuration, then applies its logging section
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Init(cfg.Log); err != nil {
		return nil, err
	}
	logrus.Debugf("Configuration loaded from %s", path)
	return cfg, nil
}
