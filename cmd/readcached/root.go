package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/readcache/cache"
	"github.com/jonwraymond/readcache/cache/sqlitebackend"
	"github.com/jonwraymond/readcache/config"
	"github.com/jonwraymond/readcache/invalidation"
	"github.com/jonwraymond/readcache/version"
)

type app struct {
	stdout io.Writer
	stderr io.Writer

	// storage overrides READCACHE_STORAGE_PATH for the offline commands.
	storage string

	loadConfig func(ctx context.Context) (*config.Config, error)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	return newRootCommandWith(&app{stdout: out, stderr: errOut, loadConfig: config.Load})
}

func newRootCommandWith(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "readcached",
		Short:         "Client-side read cache with remote invalidation",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildVersion,
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	defaultStorage := os.Getenv("READCACHE_STORAGE_PATH")
	if defaultStorage == "" {
		defaultStorage = "readcache.db"
	}
	cmd.PersistentFlags().StringVar(&a.storage, "storage", defaultStorage, "cache database used by stats, invalidate and clear")

	cmd.AddCommand(
		newServeCmd(a),
		newStatsCmd(a),
		newInvalidateCmd(a),
		newClearCmd(a),
	)
	return cmd
}

// openStore opens the cache database for an offline command.
func (a *app) openStore() (*cache.Store, *sqlitebackend.Backend, error) {
	backend, err := sqlitebackend.Open(sqlitebackend.Config{Path: a.storage})
	if err != nil {
		return nil, nil, err
	}
	return cache.NewStore(backend, cache.StoreConfig{}), backend, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print entry count and size of the cache database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, backend, err := a.openStore()
			if err != nil {
				return err
			}
			defer backend.Close()
			return a.printJSON(newStatsResponse(store.Stats(cmd.Context()), store))
		},
	}
}

func newInvalidateCmd(a *app) *cobra.Command {
	var patterns bool
	cmd := &cobra.Command{
		Use:   "invalidate <collection>...",
		Short: "Drop entries derived from remote collections",
		Long: "Drop entries derived from remote collections using the default fan-out table.\n" +
			"With --pattern the arguments are key patterns such as pieces:* instead.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, backend, err := a.openStore()
			if err != nil {
				return err
			}
			defer backend.Close()

			fanOut := invalidation.DefaultFanOut()
			removed := 0
			for _, arg := range args {
				targets := []string{arg}
				if !patterns {
					targets = fanOut.Patterns(arg)
				}
				for _, p := range targets {
					removed += store.Invalidate(cmd.Context(), p)
				}
			}
			fmt.Fprintf(a.stdout, "removed %d entries\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&patterns, "pattern", false, "treat arguments as key patterns")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry and forget learned collection capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, backend, err := a.openStore()
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx := cmd.Context()
			if err := store.ClearAll(ctx); err != nil {
				return err
			}
			if err := backend.SaveCapabilities(ctx, map[string]version.Capabilities{}); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "cache cleared")
			return nil
		},
	}
}
