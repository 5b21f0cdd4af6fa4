// Package config defines the Scribe partition worker's configuration
// schema: YAML on disk, environment overlay at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/viper"
)

// Config is the root configuration for a scribe worker process.
type Config struct {
	Node       NodeConfig       `yaml:"node" validate:"required"`
	Networking NetworkingConfig `yaml:"networking" validate:"required"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" validate:"required"`
	Summary    SummaryConfig    `yaml:"summary" validate:"required"`
	Tenants    TenantConfig     `yaml:"tenants"`
}

// NodeConfig identifies this partition worker process.
type NodeConfig struct {
	PartitionID string `yaml:"partition_id" validate:"required"`
	ZKServers   []string `yaml:"zk_servers" validate:"required,min=1"`
	ZKRoot      string   `yaml:"zk_root" validate:"required"`
}

// NetworkingConfig covers admin HTTP exposure and upstream gRPC endpoints.
type NetworkingConfig struct {
	AdminAddr    string `yaml:"admin_addr" validate:"required"`
	RepoAddr     string `yaml:"repo_addr" validate:"required"`
	ProducerAddr string `yaml:"producer_addr" validate:"required"`
}

// CheckpointConfig carries the checkpoint-cycle heuristics and flags.
type CheckpointConfig struct {
	Heuristics                                  CheckpointHeuristics `yaml:"heuristics" validate:"required"`
	EnablePendingCheckpointMessages              bool                 `yaml:"enable_pending_checkpoint_messages"`
	MaxPendingCheckpointMessagesLength           int                  `yaml:"max_pending_checkpoint_messages_length" validate:"min=1"`
	KafkaCheckpointOnReprocessingOp              bool                 `yaml:"kafka_checkpoint_on_reprocessing_op"`
	RestartOnCheckpointFailure                   bool                 `yaml:"restart_on_checkpoint_failure"`
	LocalCheckpointEnabled                       bool                 `yaml:"local_checkpoint_enabled"`
	IgnoreStorageException                       bool                 `yaml:"ignore_storage_exception"`
}

// CheckpointHeuristics configures the checkpoint-reason heuristic selection.
type CheckpointHeuristics struct {
	Enable   bool          `yaml:"enable"`
	MaxMessages int        `yaml:"max_messages" validate:"min=1"`
	MaxTime  time.Duration `yaml:"max_time" validate:"required"`
	IdleTime time.Duration `yaml:"idle_time" validate:"required"`
}

// SummaryConfig covers the summary-writer feature flags
type SummaryConfig struct {
	GenerateServiceSummary                             bool `yaml:"generate_service_summary"`
	ScrubUserDataInSummaries                            bool `yaml:"scrub_user_data_in_summaries"`
	ScrubUserDataInGlobalCheckpoints                    bool `yaml:"scrub_user_data_in_global_checkpoints"`
	ScrubUserDataInLocalCheckpoints                     bool `yaml:"scrub_user_data_in_local_checkpoints"`
	ClearCacheAfterServiceSummary                       bool `yaml:"clear_cache_after_service_summary"`
	MaxTrackedServiceSummaryVersionsSinceLastClientSummary int `yaml:"max_tracked_service_summary_versions_since_last_client_summary" validate:"min=1"`
}

// TenantConfig covers the transient-tenant filtering knobs
type TenantConfig struct {
	DisableTransientTenantFiltering bool     `yaml:"disable_transient_tenant_filtering"`
	TransientTenants                []string `yaml:"transient_tenants"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Node: NodeConfig{
			PartitionID: "partition-0",
			ZKServers:   []string{"127.0.0.1:2181"},
			ZKRoot:      "/scribe",
		},
		Networking: NetworkingConfig{
			AdminAddr:    ":8080",
			RepoAddr:     "127.0.0.1:54051",
			ProducerAddr: "127.0.0.1:54052",
		},
		Checkpoint: CheckpointConfig{
			Heuristics: CheckpointHeuristics{
				Enable:      true,
				MaxMessages: 1000,
				MaxTime:     time.Minute,
				IdleTime:    10 * time.Second,
			},
			MaxPendingCheckpointMessagesLength: 2000,
			LocalCheckpointEnabled:             true,
		},
		Summary: SummaryConfig{
			GenerateServiceSummary:                                 true,
			MaxTrackedServiceSummaryVersionsSinceLastClientSummary: 10,
		},
	}
}

// Load parses the YAML file at path and overlays SCRIBE_-prefixed
// environment variables on top of it for operational overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	v := viper.New()
	v.SetEnvPrefix("SCRIBE")
	v.AutomaticEnv()
	if v.IsSet("node_partition_id") {
		cfg.Node.PartitionID = v.GetString("node_partition_id")
	}
	if v.IsSet("networking_admin_addr") {
		cfg.Networking.AdminAddr = v.GetString("networking_admin_addr")
	}
	if v.IsSet("checkpoint_heuristics_maxmessages") {
		cfg.Checkpoint.Heuristics.MaxMessages = v.GetInt("checkpoint_heuristics_maxmessages")
	}

	return cfg, nil
}
