package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/papapumpkin/pulsar/internal/plan"
)

// Config holds all runtime configuration for a pulsar run.
// Values are populated from .pulsar.toml, PULSAR_* env vars, and CLI
// flags, with a plan manifest's [execution] table filling the gaps.
type Config struct {
	Workers            int    `mapstructure:"workers"`
	IterationBudget    int    `mapstructure:"iteration_budget"`
	ToolQuota          int    `mapstructure:"tool_quota"`
	StepTimeoutSeconds int    `mapstructure:"step_timeout_seconds"`
	RollbackAssets     bool   `mapstructure:"rollback_assets"`
	Workspace          string `mapstructure:"workspace"`
	Producer           string `mapstructure:"producer"`
	Verbose            bool   `mapstructure:"verbose"`

	// explicit records which keys the user set via flag, env, or config
	// file. ApplyManifest only fills the others. viper.IsSet cannot be
	// consulted later because registered defaults count as set.
	explicit map[string]bool
}

var keys = []string{
	"workers",
	"iteration_budget",
	"tool_quota",
	"step_timeout_seconds",
	"rollback_assets",
	"workspace",
	"producer",
	"verbose",
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	explicit := make(map[string]bool, len(keys))
	for _, k := range keys {
		_ = viper.BindEnv(k)
		explicit[k] = viper.IsSet(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.explicit = explicit

	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.IterationBudget <= 0 {
		cfg.IterationBudget = 5
	}
	if cfg.ToolQuota <= 0 {
		cfg.ToolQuota = 3
	}
	if cfg.StepTimeoutSeconds <= 0 {
		cfg.StepTimeoutSeconds = 60
	}
	return cfg, nil
}

// ApplyManifest folds a plan manifest's [execution] and [workspace]
// tables into the configuration. Manifest values fill only keys the user
// left untouched, so flags, env vars, and the config file keep
// precedence over the plan's own suggestions.
func (c *Config) ApplyManifest(m plan.Manifest) {
	if m.Execution.MaxWorkers > 0 && !c.explicit["workers"] {
		c.Workers = m.Execution.MaxWorkers
	}
	if m.Execution.IterationBudget > 0 && !c.explicit["iteration_budget"] {
		c.IterationBudget = m.Execution.IterationBudget
	}
	if m.Execution.ToolQuota > 0 && !c.explicit["tool_quota"] {
		c.ToolQuota = m.Execution.ToolQuota
	}
	if m.Execution.StepTimeoutSeconds > 0 && !c.explicit["step_timeout_seconds"] {
		c.StepTimeoutSeconds = m.Execution.StepTimeoutSeconds
	}
	if m.Execution.RollbackAssets && !c.explicit["rollback_assets"] {
		c.RollbackAssets = true
	}
	if m.Workspace.Dir != "" && !c.explicit["workspace"] {
		c.Workspace = m.Workspace.Dir
	}
}

// StepTimeout returns the default per-step wall clock limit.
func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// ProducerCommand resolves the external producer argv. An explicit
// producer setting splits on whitespace and wins over the manifest's
// [producer] command.
func (c Config) ProducerCommand(m plan.Manifest) []string {
	if c.Producer != "" {
		return strings.Fields(c.Producer)
	}
	return m.Producer.Command
}
