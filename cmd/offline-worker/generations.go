package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iTrooz/offline-worker/internal/cache"
)

func newGenerationsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "generations",
		Short: "List the cache generations in storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			storage, err := cache.New(cfg.Cache.Backend, cfg.Cache.Folder)
			if err != nil {
				return err
			}
			defer func() { _ = storage.Close() }()

			generations, err := storage.Generations(cmd.Context())
			if err != nil {
				return err
			}

			for _, generation := range generations {
				marker := " "
				if generation == cfg.Cache.Generation {
					marker = "*"
				}
				bucket, err := storage.Open(cmd.Context(), generation)
				if err != nil {
					return err
				}
				keys, err := bucket.Keys(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%d entries\n", marker, generation, len(keys))
			}
			return nil
		},
	}
}
