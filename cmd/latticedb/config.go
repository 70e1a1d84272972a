package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/latticedb/pkg/compaction"
	"github.com/cuemby/latticedb/pkg/types"
)

// Config is the YAML-loaded node configuration: node identity, data
// directory, bind addresses, retention policy defaults, fan-out budget
// defaults, and Raft timing. No command-line flag overrides a field of it;
// logging is configured by the --log-level and --log-json flags instead.
type Config struct {
	NodeID      string `yaml:"node_id"`
	DataDir     string `yaml:"data_dir"`
	RaftAddr    string `yaml:"raft_addr"`
	WireAddr    string `yaml:"wire_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	Raft      RaftConfig      `yaml:"raft"`
	Retention RetentionConfig `yaml:"retention"`
	Budget    BudgetConfig    `yaml:"budget"`

	PlanCacheSize int `yaml:"plan_cache_size"`

	Log LogConfig `yaml:"log"`
}

type RaftConfig struct {
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"`
	ElectionTimeout    time.Duration `yaml:"election_timeout"`
	CommitTimeout      time.Duration `yaml:"commit_timeout"`
	LeaderLeaseTimeout time.Duration `yaml:"leader_lease_timeout"`
	SnapshotThreshold  uint64        `yaml:"snapshot_threshold"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval"`
}

type RetentionConfig struct {
	TTL               *time.Duration `yaml:"ttl,omitempty"`
	MaxVersions       *int           `yaml:"max_versions,omitempty"`
	MinAge            time.Duration  `yaml:"min_age"`
	CleanupTombstones bool           `yaml:"cleanup_tombstones"`
	Interval          time.Duration  `yaml:"interval"`
}

type BudgetConfig struct {
	MaxEntities uint64 `yaml:"max_entities"`
	MaxDepth    uint32 `yaml:"max_depth"`
	MaxEdges    uint64 `yaml:"max_edges"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// defaultConfig is a complete local-development configuration; every
// field can be overridden by the YAML file.
func defaultConfig() Config {
	return Config{
		NodeID:      "node-1",
		DataDir:     "./latticedb-data",
		RaftAddr:    "127.0.0.1:7950",
		WireAddr:    "127.0.0.1:7951",
		MetricsAddr: "127.0.0.1:7952",
		Raft: RaftConfig{
			HeartbeatTimeout:   500 * time.Millisecond,
			ElectionTimeout:    500 * time.Millisecond,
			CommitTimeout:      50 * time.Millisecond,
			LeaderLeaseTimeout: 250 * time.Millisecond,
			SnapshotThreshold:  8192,
			SnapshotInterval:   2 * time.Minute,
		},
		Retention: RetentionConfig{
			MinAge:            time.Hour,
			CleanupTombstones: true,
			Interval:          5 * time.Minute,
		},
		Budget: BudgetConfig{
			MaxEntities: 10_000,
			MaxDepth:    5,
			MaxEdges:    50_000,
		},
		PlanCacheSize: 1024,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// loadConfig reads path if non-empty, overlaying it onto defaultConfig.
// A missing path is not an error; every field has a usable default.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) retentionPolicy() compaction.RetentionPolicy {
	return compaction.RetentionPolicy{
		TTL:               c.Retention.TTL,
		MaxVersions:       c.Retention.MaxVersions,
		MinAge:            c.Retention.MinAge,
		CleanupTombstones: c.Retention.CleanupTombstones,
	}
}

func (c Config) fanOutBudget() types.FanOutBudget {
	return types.FanOutBudget{
		MaxEntities: c.Budget.MaxEntities,
		MaxDepth:    c.Budget.MaxDepth,
		MaxEdges:    c.Budget.MaxEdges,
	}
}
