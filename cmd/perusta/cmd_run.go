package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/backends"
	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/jobs"
	"github.com/yairfalse/perusta/store"
	"github.com/yairfalse/perusta/telemetry"
	"github.com/yairfalse/perusta/types"
)

var (
	runKind        string
	runJarfile     string
	runClass       string
	runPySparkFile string
	runQueryFile   string
	runProperties  []string
	runStdoutPath  string
	runProvision   bool
	runMetricsAddr string
	runOTELAddr    string
)

// runCmd submits one job against the configured cluster
var runCmd = &cobra.Command{
	Use:   "run [job args...]",
	Short: "Submit a job and wait for it to finish",
	Long: `Submit a job against the configured cluster and wait for the
result. Everything after the flags is passed to the job unchanged.

With --provision the cluster is created first and torn down after the
job, whatever the outcome.`,
	Example: `  perusta run --kind spark --jar s3://bucket/app.jar --class com.example.Main -- arg1 arg2
  perusta run --kind pyspark --pyspark-file s3://bucket/job.py
  perusta run --kind spark-sql --query-file s3://bucket/query.sql
  perusta run --kind hadoop --jar wordcount.jar -P mapreduce.job.reduces=4 -- in/ out/`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runKind, "kind", "k", "spark", "Job kind: hadoop, spark, pyspark, spark-sql")
	runCmd.Flags().StringVar(&runJarfile, "jar", "", "Job jarfile (hadoop, spark)")
	runCmd.Flags().StringVar(&runClass, "class", "", "Main class")
	runCmd.Flags().StringVar(&runPySparkFile, "pyspark-file", "", "PySpark script (pyspark)")
	runCmd.Flags().StringVar(&runQueryFile, "query-file", "", "SQL file (spark-sql)")
	runCmd.Flags().StringArrayVarP(&runProperties, "property", "P", nil, "Job property key=value, repeatable")
	runCmd.Flags().StringVar(&runStdoutPath, "stdout", "", "Write job stdout to this file")
	runCmd.Flags().BoolVar(&runProvision, "provision", false, "Provision the cluster first and tear it down after")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics", ":9090", "Metrics server address")
	runCmd.Flags().StringVar(&runOTELAddr, "otel-endpoint", "", "OTLP gRPC endpoint (default $OTEL_EXPORTER_OTLP_ENDPOINT, then localhost:4317)")
}

func runRun(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := cmd.Context()

	cfg, driver, cluster, err := buildCluster(ctx)
	if err != nil {
		return err
	}

	spec, err := buildSpec(args)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "perusta",
		ServiceVersion: version,
		OTELEndpoint:   runOTELAddr,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	var g run.Group

	// Interrupt handling
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: runMetricsAddr, Handler: mux}
	g.Add(func() error {
		log.Info().Str("addr", runMetricsAddr).Msg("starting metrics server")
		return srv.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})

	// The job itself
	jobCtx, jobCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return executeJob(jobCtx, cfg, driver, cluster, spec)
	}, func(error) {
		jobCancel()
	})

	err = g.Run()
	if _, interrupted := err.(run.SignalError); interrupted {
		log.Warn().Msg("interrupted")
		return nil
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type clusterResource interface {
	Create(ctx context.Context) error
	Delete(ctx context.Context) error
}

func executeJob(ctx context.Context, cfg *config.Config, driver backends.Driver, cluster clusterResource, spec jobs.Spec) error {
	if runProvision {
		log.Info().Str("backend", cfg.Backend).Msg("provisioning cluster")
		if err := cluster.Create(ctx); err != nil {
			return err
		}
		defer func() {
			// Teardown keeps going even when the run context is done
			downCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if err := cluster.Delete(downCtx); err != nil {
				log.Error().Err(err).Msg("teardown failed")
			}
		}()
	}

	executor, err := jobs.NewExecutor(driver, cfg.ExecutorOptions()...)
	if err != nil {
		return err
	}

	result, err := executor.Submit(ctx, spec)
	if err != nil {
		return err
	}

	log.Info().
		Str("kind", string(spec.Kind)).
		Dur("run_time", result.RunTime).
		Dur("pending_time", result.PendingTime).
		Dur("wall_time", result.WallTime()).
		Msg("job finished")

	if cfg.DataDir != "" {
		if err := recordRun(cfg, driver, spec, result); err != nil {
			log.Warn().Err(err).Msg("failed to record run")
		}
	}
	return nil
}

// recordRun persists the run's samples for later reporting
func recordRun(cfg *config.Config, driver backends.Driver, spec jobs.Spec, result jobs.Result) error {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	meta := driver.Metadata()
	runID := fmt.Sprintf("%s-%d", meta.ClusterID, time.Now().Unix())
	if _, err := st.RecordRun(runID, meta); err != nil {
		return err
	}

	now := time.Now()
	labels := meta.Map()
	labels["job_kind"] = string(spec.Kind)
	samples := []types.Sample{
		{Metric: "run_time", Value: result.RunTime.Seconds(), Unit: "seconds", Metadata: labels, Timestamp: now},
		{Metric: "pending_time", Value: result.PendingTime.Seconds(), Unit: "seconds", Metadata: labels, Timestamp: now},
		{Metric: "wall_time", Value: result.WallTime().Seconds(), Unit: "seconds", Metadata: labels, Timestamp: now},
	}
	if _, err := st.RecordSampleBatch(runID, samples); err != nil {
		return err
	}
	return st.CompleteRun(runID)
}

func buildSpec(args []string) (jobs.Spec, error) {
	props, err := types.ParseProperties(runProperties)
	if err != nil {
		return jobs.Spec{}, err
	}
	spec := jobs.Spec{
		Kind:        jobs.Kind(runKind),
		Jarfile:     runJarfile,
		ClassName:   runClass,
		PySparkFile: runPySparkFile,
		QueryFile:   runQueryFile,
		Args:        args,
		Properties:  props,
		StdoutPath:  runStdoutPath,
	}
	if err := spec.Validate(); err != nil {
		return jobs.Spec{}, err
	}
	return spec, nil
}
