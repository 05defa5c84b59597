package appcore

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/remedia-app/appcore/governor"
	"github.com/remedia-app/appcore/perf"
	"github.com/remedia-app/appcore/startup"
)

// Config aggregates the per-component settings under one root. Zero values
// are invalid; start from DefaultConfig and override.
type Config struct {
	LogLevel string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Startup  startup.Config  `mapstructure:"startup"`
	Perf     perf.Config     `mapstructure:"perf"`
	Governor governor.Config `mapstructure:"governor"`
}

// DefaultConfig returns the stock settings for every component.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Startup:  startup.DefaultConfig(),
		Perf:     perf.DefaultConfig(),
		Governor: governor.DefaultConfig(),
	}
}

// Validate checks the whole tree, component sections included.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig builds a Config from the defaults, an optional config file, and
// APPCORE_-prefixed environment variables, in ascending precedence. An empty
// path skips the file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APPCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides resolve even
// without a config file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("startup.critical_path_timeout", d.Startup.CriticalPathTimeout)
	v.SetDefault("startup.cold_start_target", d.Startup.ColdStartTarget)
	v.SetDefault("startup.warm_start_target", d.Startup.WarmStartTarget)
	v.SetDefault("startup.warm_start_window", d.Startup.WarmStartWindow)
	v.SetDefault("startup.fatal_priority_max", d.Startup.FatalPriorityMax)
	v.SetDefault("startup.enable_background_init", d.Startup.EnableBackgroundInit)
	v.SetDefault("startup.disabled_resources", d.Startup.DisabledResources)
	v.SetDefault("startup.stuck_task_timeout", d.Startup.StuckTaskTimeout)
	v.SetDefault("startup.launch_log_cap", d.Startup.LaunchLogCap)

	v.SetDefault("perf.target_fps", d.Perf.TargetFPS)
	v.SetDefault("perf.frame_budget_ms", d.Perf.FrameBudgetMs)
	v.SetDefault("perf.interaction_budget_ms", d.Perf.InteractionBudgetMs)
	v.SetDefault("perf.navigation_budget_ms", d.Perf.NavigationBudgetMs)
	v.SetDefault("perf.recent_window", d.Perf.RecentWindow)
	v.SetDefault("perf.min_performant_fps", d.Perf.MinPerformantFPS)
	v.SetDefault("perf.max_response_ms", d.Perf.MaxResponseMs)
	v.SetDefault("perf.performant_budget_pct", d.Perf.PerformantBudgetPct)
	v.SetDefault("perf.ui_sample_cap", d.Perf.UISampleCap)
	v.SetDefault("perf.trace_cap", d.Perf.TraceCap)

	v.SetDefault("governor.max_memory_mb", d.Governor.MaxMemoryMB)
	v.SetDefault("governor.cache_budget_bytes", d.Governor.CacheBudgetBytes)
	v.SetDefault("governor.snapshot_interval", d.Governor.SnapshotInterval)
	v.SetDefault("governor.leak_check_interval", d.Governor.LeakCheckInterval)
	v.SetDefault("governor.pressure_interval", d.Governor.PressureInterval)
	v.SetDefault("governor.sample_cap", d.Governor.SampleCap)
	v.SetDefault("governor.finding_cap", d.Governor.FindingCap)
	v.SetDefault("governor.leak_window", d.Governor.LeakWindow)
	v.SetDefault("governor.overall_growth_mb", d.Governor.OverallGrowthMB)
	v.SetDefault("governor.component_growth_mb", d.Governor.ComponentGrowthMB)
	v.SetDefault("governor.budget_warn_pct", d.Governor.BudgetWarnPct)
	v.SetDefault("governor.high_shrink_fraction", d.Governor.HighShrinkFraction)
	v.SetDefault("governor.collections_per_minute", d.Governor.CollectionsPerMinute)
	v.SetDefault("governor.collection_burst", d.Governor.CollectionBurst)
	v.SetDefault("governor.persisted_findings", d.Governor.PersistedFindings)
	v.SetDefault("governor.pool_capacity", d.Governor.PoolCapacity)
}
