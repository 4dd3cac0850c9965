package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty it searches standard locations for
// enact.yaml/.yml. The search requires an explicit YAML extension so the
// binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("enact")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: ENACT_RATE_LIMIT_MAX_PER_MINUTE
	viper.SetEnvPrefix("ENACT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an enact config file with
// an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".enact"),
		"/etc/enact",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "enact"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("agent_id")
	_ = viper.BindEnv("policy_file")
	_ = viper.BindEnv("default_allow")
	_ = viper.BindEnv("log_level")

	_ = viper.BindEnv("upstream.command")
	_ = viper.BindEnv("upstream.endpoint")

	_ = viper.BindEnv("validation.require_justification")
	_ = viper.BindEnv("validation.min_justification_length")

	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.max_per_minute")
	_ = viper.BindEnv("rate_limit.burst")

	_ = viper.BindEnv("quota.enabled")
	_ = viper.BindEnv("quota.max_actions")
	_ = viper.BindEnv("quota.window_hours")

	_ = viper.BindEnv("breaker.enabled")
	_ = viper.BindEnv("breaker.failure_threshold")
	_ = viper.BindEnv("breaker.success_threshold")
	_ = viper.BindEnv("breaker.timeout_seconds")

	_ = viper.BindEnv("oversight.escalation_enabled")

	_ = viper.BindEnv("audit.file")
	_ = viper.BindEnv("audit.sqlite")
	_ = viper.BindEnv("audit.http_url")
	_ = viper.BindEnv("audit.syslog")
	_ = viper.BindEnv("audit.syslog_network")
	_ = viper.BindEnv("audit.redact")
}

// Load reads the configuration file, applies environment overrides and
// defaults, and validates the result.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file; environment variables alone are fine.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FileUsed returns the path of the loaded configuration file, or "" when
// only environment variables were used.
func FileUsed() string {
	return viper.ConfigFileUsed()
}
