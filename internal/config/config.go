// Package config loads and represents Graphix's YAML configuration file
// (spec §6.1): database connection, API ports, polling cadence, the
// BlockChoicePolicy, per-chain parameters, and the list of indexer sources.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BlockChoicePolicy selects the rule the Poller uses to pick a comparison
// block per deployment from indexers' reported latest-synced blocks
// (spec §4.1 step 3).
type BlockChoicePolicy string

const (
	PolicyEarliest        BlockChoicePolicy = "earliest"
	PolicyMaxSyncedBlocks BlockChoicePolicy = "maxSyncedBlocks"
)

// ChainConfig carries the per-chain parameters from the config file.
// avgBlockTimeInMsecs/sampleBlockHeight/sampleTimestamp are parsed and kept
// in the recorded config snapshot; no component reads them to estimate block
// timestamps.
type ChainConfig struct {
	AvgBlockTimeInMsecs              uint64    `yaml:"avgBlockTimeInMsecs"`
	SampleBlockHeight                uint64    `yaml:"sampleBlockHeight"`
	SampleTimestamp                  time.Time `yaml:"sampleTimestamp"`
	BlockExplorerURLTemplateForBlock string    `yaml:"blockExplorerUrlTemplateForBlock,omitempty"`
	Caip2                            string    `yaml:"caip2,omitempty"`
}

// Config is the top-level effective configuration.
type Config struct {
	DatabaseURL            string                 `yaml:"databaseUrl"`
	GraphQL                GraphQLConfig          `yaml:"graphql"`
	PrometheusPort         uint16                 `yaml:"prometheusPort"`
	PollingPeriodInSeconds uint64                 `yaml:"pollingPeriodInSeconds"`
	BlockChoicePolicy      BlockChoicePolicy      `yaml:"blockChoicePolicy"`
	Chains                 map[string]ChainConfig `yaml:"chains"`
	Sources                []Source               `yaml:"sources"`
}

// GraphQLConfig is the nested `graphql:` key; Port 0 disables the API.
type GraphQLConfig struct {
	Port uint16 `yaml:"port"`
}

const (
	defaultGraphQLPort    = 3030
	defaultPrometheusPort = 9184
	defaultPollingPeriod  = 120
	defaultBlockChoice    = PolicyMaxSyncedBlocks
)

// Load reads and parses the YAML config file at path, applying defaults for
// any key the file omits. GRAPHIX_DB_URL, when set, overrides databaseUrl —
// mirroring --database-url as described in spec §6.4.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Config{
		GraphQL:                GraphQLConfig{Port: defaultGraphQLPort},
		PrometheusPort:         defaultPrometheusPort,
		PollingPeriodInSeconds: defaultPollingPeriod,
		BlockChoicePolicy:      defaultBlockChoice,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if envURL := os.Getenv("GRAPHIX_DB_URL"); envURL != "" {
		cfg.DatabaseURL = envURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: databaseUrl is required")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: sources is required and must be non-empty")
	}
	switch c.BlockChoicePolicy {
	case PolicyEarliest, PolicyMaxSyncedBlocks:
	default:
		return fmt.Errorf("config: unknown blockChoicePolicy %q", c.BlockChoicePolicy)
	}
	return nil
}

// PollingPeriod returns PollingPeriodInSeconds as a time.Duration.
func (c *Config) PollingPeriod() time.Duration {
	return time.Duration(c.PollingPeriodInSeconds) * time.Second
}
