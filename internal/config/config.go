// Package config loads the enumerated, all-defaulted configuration of
// §6 from YAML, mirroring the teacher corpus's config-file approach
// (gopkg.in/yaml.v3) generalized from a single flat JSON record to the
// section-per-subsystem layout the design calls for.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type SessionConfig struct {
	MaxDuration      time.Duration `yaml:"max_duration"`
	MaxMessageCount  uint64        `yaml:"max_message_count"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	WarningThreshold float64       `yaml:"warning_threshold"`
}

type RekeyConfig struct {
	RotationInterval time.Duration `yaml:"rotation_interval"`
	MaxMessagesPerKey uint64       `yaml:"max_messages_per_key"`
	KeepOldKeysFor   time.Duration `yaml:"keep_old_keys_for"`
}

type SchedulingConfig struct {
	MinIntervalMs     int `yaml:"min_interval_ms"`
	LoopBudgetPerWindow int `yaml:"loop_budget_per_window"`
	WindowMs          int `yaml:"window_ms"`
}

type ConsensusConfig struct {
	PhaseTimeoutMs int `yaml:"phase_timeout_ms"`
	MinValidators  int `yaml:"min_validators"`
	MaxValidators  int `yaml:"max_validators"`
}

type MeshConfig struct {
	MaxPeers                 int     `yaml:"max_peers"`
	MaxTTL                    uint8   `yaml:"max_ttl"`
	DedupeWindow              int     `yaml:"dedupe_window"`
	GossipReputationThreshold float64 `yaml:"gossip_reputation_threshold"`
}

// ReputationConfig holds the δ adjustments of §4.8. All scores live in
// [0,1]; equivocation bypasses these deltas entirely (irrevocable drop
// to 0).
type ReputationConfig struct {
	DeltaMissed      float64 `yaml:"delta_missed"`
	DeltaInvalid     float64 `yaml:"delta_invalid"`
	DeltaGood        float64 `yaml:"delta_good"`
	ExclusionThreshold float64 `yaml:"exclusion_threshold"`
}

type Config struct {
	Session    SessionConfig    `yaml:"session"`
	Rekey      RekeyConfig      `yaml:"rekey"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Mesh       MeshConfig       `yaml:"mesh"`
	Reputation ReputationConfig `yaml:"reputation"`
}

// Default returns the numeric defaults enumerated in §6.
func Default() Config {
	return Config{
		Session: SessionConfig{
			MaxDuration:      3600 * time.Second,
			MaxMessageCount:  1000,
			IdleTimeout:      600 * time.Second,
			WarningThreshold: 0.8,
		},
		Rekey: RekeyConfig{
			RotationInterval:  600 * time.Second,
			MaxMessagesPerKey: 500,
			KeepOldKeysFor:    30 * time.Second,
		},
		Scheduling: SchedulingConfig{
			MinIntervalMs:       100,
			LoopBudgetPerWindow: 1000,
			WindowMs:            1000,
		},
		Consensus: ConsensusConfig{
			PhaseTimeoutMs: 2000,
			MinValidators:  4,
			MaxValidators:  8,
		},
		Mesh: MeshConfig{
			MaxPeers:                  64,
			MaxTTL:                    8,
			DedupeWindow:              1024,
			GossipReputationThreshold: 0.2,
		},
		Reputation: ReputationConfig{
			DeltaMissed:        0.1,
			DeltaInvalid:       0.2,
			DeltaGood:          0.02,
			ExclusionThreshold: 0.2,
		},
	}
}

// Load reads a YAML file over the defaults: any key the file omits
// keeps its §6 default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the design forbids outright, such as
// a validator floor below the BFT minimum of n=4 (§4.6).
func (c Config) Validate() error {
	if c.Consensus.MinValidators < 4 {
		return fmt.Errorf("consensus.min_validators must be >= 4, got %d", c.Consensus.MinValidators)
	}
	if c.Consensus.MaxValidators < c.Consensus.MinValidators {
		return fmt.Errorf("consensus.max_validators (%d) below min_validators (%d)",
			c.Consensus.MaxValidators, c.Consensus.MinValidators)
	}
	if c.Scheduling.MinIntervalMs <= 0 {
		return fmt.Errorf("scheduling.min_interval_ms must be positive")
	}
	return nil
}
