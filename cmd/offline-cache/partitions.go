package main

import (
	"fmt"

	"github.com/spf13/cobra"

	offlinecache "github.com/dgduncan/go-offline-cache"
)

func newPartitionsCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Inspect and clean the partitions of a persistent backend",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List partitions in creation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := openStore(cmd, global)
			if err != nil {
				return err
			}
			defer closeFn()

			names, err := store.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	var staleOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every partition, or only those of other versions with --stale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := openStore(cmd, global)
			if err != nil {
				return err
			}
			defer closeFn()

			if !staleOnly {
				return store.Clear(cmd.Context())
			}

			cfg, err := offlinecache.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			scope, err := offlinecache.NewScope(cfg)
			if err != nil {
				return err
			}
			deleted, err := store.DeleteStale(cmd.Context(), scope.Partitions())
			for _, name := range deleted {
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", name)
			}
			return err
		},
	}
	clearCmd.Flags().BoolVar(&staleOnly, "stale", false, "keep the partitions of the configured version")
	cmd.AddCommand(clearCmd)

	return cmd
}

func openStore(cmd *cobra.Command, global *globalOptions) (*offlinecache.Store, func(), error) {
	logger, err := newLogger(global.logLevel)
	if err != nil {
		return nil, nil, err
	}
	storage, closer, err := openStorage(cmd.Context(), global)
	if err != nil {
		return nil, nil, err
	}
	return offlinecache.NewStore(storage, logger, nil), func() { _ = closer.Close() }, nil
}
