package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// downCmd tears the cluster down
var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Tear down the configured cluster",
	Long: `Delete the configured cluster and its dependencies. Safe to
run more than once; a cluster that is already gone counts as deleted.

A user-managed cluster is never deleted.`,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := cmd.Context()

	cfg, _, cluster, err := buildCluster(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Str("backend", cfg.Backend).
		Str("cluster", cluster.ID).
		Msg("tearing down cluster")

	if err := cluster.Delete(ctx); err != nil {
		return err
	}

	log.Info().Str("cluster", cluster.ID).Msg("cluster deleted")
	return nil
}
