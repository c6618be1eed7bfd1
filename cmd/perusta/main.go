// Perusta - Cluster Provisioning and Job Engine
// Provision. Submit. Tear down.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/perusta/backends"
	_ "github.com/yairfalse/perusta/backends/eks"
	_ "github.com/yairfalse/perusta/backends/emr"
	_ "github.com/yairfalse/perusta/backends/rds"
	_ "github.com/yairfalse/perusta/backends/yarn"
	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/journal"
	"github.com/yairfalse/perusta/lifecycle"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	Execute()
}

func setupLogging() {
	if debugLog {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// buildCluster loads the config and assembles the backend driver plus
// the lifecycle wrapper every subcommand operates through.
func buildCluster(ctx context.Context) (*config.Config, backends.Driver, *lifecycle.Resource, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	backendCfg := cfg.BackendConfig()
	driver, err := backends.New(ctx, cfg.Backend, backendCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build %s backend: %w", cfg.Backend, err)
	}

	opts := []lifecycle.Option{}
	if backendCfg.UserManaged() {
		opts = append(opts, lifecycle.WithUserManaged())
	}
	if cfg.DataDir != "" {
		jnl, err := journal.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open journal: %w", err)
		}
		opts = append(opts, lifecycle.WithJournal(jnl))
	}

	name := backendCfg.ClusterID
	if name == "" {
		name = backendCfg.StaticClusterID
	}
	if staged, ok := driver.(interface{ StagingBucket() lifecycle.Dependency }); ok && !backendCfg.UserManaged() {
		opts = append(opts, lifecycle.WithDependencies(staged.StagingBucket()))
	}

	resource := lifecycle.New(name, driver, opts...)
	return cfg, driver, resource, nil
}
