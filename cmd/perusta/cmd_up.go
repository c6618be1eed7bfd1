package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// upCmd provisions the cluster and its dependencies
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision the configured cluster",
	Long: `Provision the configured cluster and everything it needs,
then wait until it is ready to accept work.

For a user-managed cluster (cluster.static_id set) nothing is
created; the cluster is validated instead.`,
	Example: `  perusta up                       # Provision per perusta.yaml
  perusta up -c emr.yaml           # Provision from a specific config`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := cmd.Context()

	cfg, driver, cluster, err := buildCluster(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Str("backend", cfg.Backend).
		Str("cluster", cluster.ID).
		Msg("provisioning cluster")

	if err := cluster.Create(ctx); err != nil {
		return err
	}

	meta := driver.Metadata()
	log.Info().
		Str("cluster", meta.ClusterID).
		Str("service", meta.Service).
		Int("workers", meta.WorkerCount).
		Msg("cluster ready")
	return nil
}
