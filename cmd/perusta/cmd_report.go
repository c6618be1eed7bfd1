package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/store"
)

var (
	reportRunID  string
	reportFormat string
)

// reportCmd prints recorded run results
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show results of recorded runs",
	Long: `Show the samples recorded by past runs. Works entirely from
the local result store, so the clusters the runs used can be long
gone.`,
	Example: `  perusta report                        # List recorded runs
  perusta report --run my-cluster-17100 # Samples for one run
  perusta report --format json          # Machine-readable output`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportRunID, "run", "", "Show samples for one run")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "Output format: table, json")
}

func runReport(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is not set in %s, nothing was recorded", configPath)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	if reportRunID != "" {
		return reportSamples(st, reportRunID)
	}
	return reportRuns(st, cfg.Backend)
}

func reportRuns(st *store.Store, backend string) error {
	runs, err := st.RunsByBackend(backend)
	if err != nil {
		return err
	}

	if reportFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(runs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCLUSTER\tSAMPLES\tCOMPLETED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", r.RunID, r.ClusterID, r.SampleCount, r.Completed)
	}
	return w.Flush()
}

func reportSamples(st *store.Store, runID string) error {
	samples, err := st.SamplesForRun(runID)
	if err != nil {
		return err
	}

	if reportFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(samples)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tVALUE\tUNIT\tTIMESTAMP")
	for _, s := range samples {
		fmt.Fprintf(w, "%s\t%.3f\t%s\t%s\n", s.Metric, s.Value, s.Unit, s.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
