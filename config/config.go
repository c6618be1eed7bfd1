package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/perusta/backends"
	"github.com/yairfalse/perusta/jobs"
)

// Config represents the main configuration
type Config struct {
	Version  string       `yaml:"version"`
	Backend  string       `yaml:"backend"`
	Region   string       `yaml:"region"`
	Zone     string       `yaml:"zone,omitempty"`
	DataDir  string       `yaml:"data_dir,omitempty"`
	Cluster  ClusterSpec  `yaml:"cluster,omitempty"`
	Database DatabaseSpec `yaml:"database,omitempty"`
	Jobs     JobDefaults  `yaml:"jobs,omitempty"`
}

// ClusterSpec describes the cluster a run provisions or attaches to
type ClusterSpec struct {
	ID          string `yaml:"id,omitempty"`
	StaticID    string `yaml:"static_id,omitempty"`
	Workers     int    `yaml:"workers,omitempty"`
	MachineType string `yaml:"machine_type,omitempty"`
	Version     string `yaml:"service_version,omitempty"`
	Leader      string `yaml:"leader,omitempty"`
	SSHPort     int    `yaml:"ssh_port,omitempty"`
	SSHUser     string `yaml:"ssh_user,omitempty"`
	SSHKeyPath  string `yaml:"ssh_key_path,omitempty"`
}

// DatabaseSpec describes a managed database for database backends
type DatabaseSpec struct {
	Engine        string `yaml:"engine,omitempty"`
	EngineVersion string `yaml:"engine_version,omitempty"`
	StorageGB     int    `yaml:"storage_gb,omitempty"`
}

// JobDefaults carries job settings applied to every submission
type JobDefaults struct {
	BaseProperties map[string]string `yaml:"base_properties,omitempty"`
	PollInterval   time.Duration     `yaml:"poll_interval,omitempty"`
	Timeout        time.Duration     `yaml:"timeout,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Cluster.ID == "" && cfg.Cluster.StaticID == "" {
		id, err := generateClusterID()
		if err != nil {
			return nil, err
		}
		cfg.Cluster.ID = id
	}

	return &cfg, nil
}

// generateClusterID names a fresh managed resource when the config
// pins no identity of its own. The suffix keeps repeated runs from
// colliding on cloud-side names such as the staging bucket.
func generateClusterID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate cluster id: %w", err)
	}
	return "perusta-" + hex.EncodeToString(buf), nil
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Backend == "" {
		return fmt.Errorf("backend is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.Cluster.ID != "" && c.Cluster.StaticID != "" {
		return fmt.Errorf("cluster.id and cluster.static_id are mutually exclusive")
	}
	if c.Jobs.PollInterval < 0 {
		return fmt.Errorf("jobs.poll_interval must not be negative")
	}
	if c.Jobs.Timeout < 0 {
		return fmt.Errorf("jobs.timeout must not be negative")
	}
	return nil
}

// BackendConfig maps the file config onto a backend driver config
func (c *Config) BackendConfig() backends.Config {
	return backends.Config{
		Region:          c.Region,
		Zone:            c.Zone,
		ClusterID:       c.Cluster.ID,
		StaticClusterID: c.Cluster.StaticID,
		Workers:         c.Cluster.Workers,
		MachineType:     c.Cluster.MachineType,
		Version:         c.Cluster.Version,
		Leader:          c.Cluster.Leader,
		SSHPort:         c.Cluster.SSHPort,
		SSHUser:         c.Cluster.SSHUser,
		SSHKeyPath:      c.Cluster.SSHKeyPath,
		Engine:          c.Database.Engine,
		EngineVersion:   c.Database.EngineVersion,
		StorageGB:       c.Database.StorageGB,
	}
}

// ExecutorOptions maps the job defaults onto executor options
func (c *Config) ExecutorOptions() []jobs.ExecutorOption {
	var opts []jobs.ExecutorOption
	if len(c.Jobs.BaseProperties) > 0 {
		opts = append(opts, jobs.WithBaseProperties(c.Jobs.BaseProperties))
	}
	if c.Jobs.PollInterval > 0 {
		opts = append(opts, jobs.WithPollInterval(c.Jobs.PollInterval))
	}
	if c.Jobs.Timeout > 0 {
		opts = append(opts, jobs.WithTimeout(c.Jobs.Timeout))
	}
	return opts
}
