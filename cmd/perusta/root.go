package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/backends"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "perusta",
		Short: "Cluster Provisioning and Job Engine",
		Long: `Perusta - Cluster Provisioning and Job Engine

Perusta provisions data processing clusters, submits jobs against
them, and tears everything down when the run completes. Supported
backends: ` + strings.Join(backends.List(), ", ") + `.

Clusters can be engine-managed for the duration of a run or attached
to an existing user-managed cluster that perusta never deletes.`,
		Version: version,
	}

	configPath string
	debugLog   bool
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`Perusta {{.Version}} - Cluster Provisioning and Job Engine
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "perusta.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
}
