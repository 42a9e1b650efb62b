// Package config centralizes process configuration: viper loads defaults, a
// config file, and TEMPS_-prefixed environment variables into a single
// typed Config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is every setting the core's components need to boot.
type Config struct {
	Addr        string `mapstructure:"addr"`
	BearerToken string `mapstructure:"bearer_token"`
	CORSOrigin  string `mapstructure:"cors_origin"`

	DatabaseURL string `mapstructure:"database_url"`

	CryptoKeyBase64 string `mapstructure:"crypto_key"`

	DockerHost string `mapstructure:"docker_host"`
	NetworkName string `mapstructure:"network_name"`

	PublicAddr string `mapstructure:"public_addr"`

	BackupInterval  time.Duration `mapstructure:"backup_interval"`
	BackupRetention time.Duration `mapstructure:"backup_retention"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads defaults, an optional config file, and TEMPS_-prefixed
// environment variables into a Config. configFile may be empty.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("temps")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("bearer_token", "")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("database_url", "")
	v.SetDefault("crypto_key", "")
	v.SetDefault("docker_host", "")
	v.SetDefault("network_name", "temps-net")
	v.SetDefault("public_addr", "")
	v.SetDefault("backup_interval", time.Hour)
	v.SetDefault("backup_retention", 30*24*time.Hour)
	v.SetDefault("log_level", "info")
}
