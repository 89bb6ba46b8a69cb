package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"milo/internal/logging"
)

// Store loads and persists the agent configuration.
type Store struct {
	path   string
	logger logging.Logger
}

// NewStore creates a Store rooted at the default config path.
func NewStore() *Store {
	return NewStoreAt(ConfigPath())
}

// NewStoreAt creates a Store for an explicit config file path.
func NewStoreAt(path string) *Store {
	return &Store{
		path:   path,
		logger: logging.NewComponentLogger("ConfigStore"),
	}
}

// Load reads the config file, applying defaults for missing fields. A missing
// file yields the full default config without error.
func (s *Store) Load() (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", s.path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the config atomically: temp file in the same directory, then
// rename over the destination.
func (s *Store) Save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".agent.config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// applyDefaults fills zero-valued numeric and enum fields after decode so old
// config files keep working when new settings are introduced.
func applyDefaults(cfg *Config) {
	if cfg.ActiveProvider == "" {
		cfg.ActiveProvider = LocalProvider
	}
	if cfg.Providers == nil {
		cfg.Providers = Default().Providers
	}
	if _, ok := cfg.Providers[cfg.ActiveProvider]; !ok {
		cfg.ActiveProvider = LocalProvider
		if _, ok := cfg.Providers[LocalProvider]; !ok {
			cfg.Providers[LocalProvider] = Default().Providers[LocalProvider]
		}
	}
	if cfg.RunPolicy == "" {
		cfg.RunPolicy = RunPolicyAsk
	}
	if cfg.EffortLevel == "" {
		cfg.EffortLevel = "medium"
	}
	if cfg.ReasoningLevel == "" {
		cfg.ReasoningLevel = "medium"
	}
	if cfg.StreamTimeoutMS <= 0 {
		cfg.StreamTimeoutMS = DefaultStreamTimeoutMS
	}
	if cfg.StreamRetryCount < 0 {
		cfg.StreamRetryCount = DefaultStreamRetryCount
	}
	if cfg.StreamRenderFPS <= 0 {
		cfg.StreamRenderFPS = DefaultStreamRenderFPS
	}
	if cfg.MaxBudget <= 0 {
		cfg.MaxBudget = DefaultMaxBudget
	}
	if cfg.AutoCompactThresholdPct <= 0 {
		cfg.AutoCompactThresholdPct = DefaultCompactThreshold
	}
	if cfg.AutoCompactKeepRecent <= 0 {
		cfg.AutoCompactKeepRecent = DefaultCompactKeepRecent
	}
	if cfg.MissionMaxSteps <= 0 {
		cfg.MissionMaxSteps = DefaultMissionMaxSteps
	}
	if cfg.MissionIdleStepThreshold <= 0 {
		cfg.MissionIdleStepThreshold = DefaultMissionIdleLimit
	}
	if cfg.Theme == "" {
		cfg.Theme = "dark"
	}
}
