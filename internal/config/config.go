package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the run configuration. It is built once at process start and
// never mutated afterwards; every component reads the fields it needs.
type Config struct {
	UseMicrosoftUpdate bool   `mapstructure:"use_microsoft_update" yaml:"use_microsoft_update"`
	InstallUpdates     bool   `mapstructure:"install_updates" yaml:"install_updates"`
	AutoReboot         bool   `mapstructure:"auto_reboot" yaml:"auto_reboot"`
	LogFile            string `mapstructure:"log_file" yaml:"log_file"`
	Silent             bool   `mapstructure:"silent" yaml:"silent"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	SearchCriteria             string   `mapstructure:"search_criteria" yaml:"search_criteria"`
	Services                   []string `mapstructure:"services" yaml:"services"`
	ServiceRestartDelaySeconds int      `mapstructure:"service_restart_delay_seconds" yaml:"service_restart_delay_seconds"`
	RebootDelaySeconds         int      `mapstructure:"reboot_delay_seconds" yaml:"reboot_delay_seconds"`

	SkipServiceRestart bool `mapstructure:"skip_service_restart" yaml:"skip_service_restart"`
	SkipCacheClean     bool `mapstructure:"skip_cache_clean" yaml:"skip_cache_clean"`
	SkipScanTrigger    bool `mapstructure:"skip_scan_trigger" yaml:"skip_scan_trigger"`

	// MinDiskSpaceGB enables the free-space preflight check when > 0.
	MinDiskSpaceGB float64 `mapstructure:"min_disk_space_gb" yaml:"min_disk_space_gb"`
}

// Default returns the configuration used when no file, env var, or flag
// overrides a value.
func Default() *Config {
	return &Config{
		UseMicrosoftUpdate:         true,
		InstallUpdates:             true,
		AutoReboot:                 true,
		LogFile:                    filepath.Join(os.TempDir(), "patchrun.log"),
		LogLevel:                   "info",
		LogFormat:                  "line",
		LogMaxSizeMB:               50,
		LogMaxBackups:              3,
		SearchCriteria:             "IsInstalled=0 and Type='Software'",
		Services:                   []string{"wuauserv", "bits", "cryptsvc"},
		ServiceRestartDelaySeconds: 2,
		RebootDelaySeconds:         60,
	}
}

// Load reads configuration from the given file (or the default search
// locations when cfgFile is empty), layered with PATCHRUN_* environment
// variables and any flags already bound to the viper instance.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := Default()

	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("patchrun")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PATCHRUN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ServiceRestartDelay returns the stop/start settle delay as a duration.
func (c *Config) ServiceRestartDelay() time.Duration {
	return time.Duration(c.ServiceRestartDelaySeconds) * time.Second
}

// RebootDelay returns the scheduled reboot delay as a duration.
func (c *Config) RebootDelay() time.Duration {
	return time.Duration(c.RebootDelaySeconds) * time.Second
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("use_microsoft_update", cfg.UseMicrosoftUpdate)
	v.SetDefault("install_updates", cfg.InstallUpdates)
	v.SetDefault("auto_reboot", cfg.AutoReboot)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("silent", cfg.Silent)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
	v.SetDefault("search_criteria", cfg.SearchCriteria)
	v.SetDefault("services", cfg.Services)
	v.SetDefault("service_restart_delay_seconds", cfg.ServiceRestartDelaySeconds)
	v.SetDefault("reboot_delay_seconds", cfg.RebootDelaySeconds)
	v.SetDefault("skip_service_restart", cfg.SkipServiceRestart)
	v.SetDefault("skip_cache_clean", cfg.SkipCacheClean)
	v.SetDefault("skip_scan_trigger", cfg.SkipScanTrigger)
	v.SetDefault("min_disk_space_gb", cfg.MinDiskSpaceGB)
}

func configDir() string {
	if pd := os.Getenv("ProgramData"); pd != "" {
		return filepath.Join(pd, "PatchRun")
	}
	return "/etc/patchrun"
}
