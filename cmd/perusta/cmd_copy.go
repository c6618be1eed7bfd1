package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/jobs"
	"github.com/yairfalse/perusta/types"
)

var copyProperties []string

// copyCmd runs a distributed copy on the cluster
var copyCmd = &cobra.Command{
	Use:   "copy <source> <destination>",
	Short: "Run a distributed copy between storage locations",
	Long: `Run a cluster-side distributed copy between two storage
locations. The copy executes on the cluster's workers, so large
datasets move at cluster bandwidth rather than through this machine.`,
	Example: `  perusta copy s3://src-bucket/data s3://dst-bucket/data
  perusta copy hdfs:///input s3://bucket/input -P mapreduce.job.maps=64`,
	Args: cobra.ExactArgs(2),
	RunE: runCopy,
}

func init() {
	rootCmd.AddCommand(copyCmd)
	copyCmd.Flags().StringArrayVarP(&copyProperties, "property", "P", nil, "Job property key=value, repeatable")
}

func runCopy(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := cmd.Context()

	cfg, driver, _, err := buildCluster(ctx)
	if err != nil {
		return err
	}

	executor, err := jobs.NewExecutor(driver, cfg.ExecutorOptions()...)
	if err != nil {
		return err
	}

	props, err := types.ParseProperties(copyProperties)
	if err != nil {
		return err
	}

	result, err := executor.DistributedCopy(ctx, args[0], args[1], props)
	if err != nil {
		return err
	}

	log.Info().
		Str("source", args[0]).
		Str("destination", args[1]).
		Dur("wall_time", result.WallTime()).
		Msg("copy finished")
	return nil
}
