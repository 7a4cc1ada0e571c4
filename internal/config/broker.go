// Package config loads the broker's line-oriented settings file and reads and writes the
// id:lat:lon:range camera inventory format that cmd/camera's generate subcommand prints.
package config

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/hlindberg/vigilancia/internal/mqtt"
)

// DefaultConfigPath is where LoadBrokerConfig looks when no path is given.
const DefaultConfigPath = "~/.vigilancia/broker.conf"

// BrokerConfig holds the broker's tunable settings, as read from a key=value properties file.
type BrokerConfig struct {
	Port                 int
	Username             string
	Password             string
	RetryIntervalSeconds int
	MaxRetries           int
	MailboxSize          int
}

// DefaultBrokerConfig returns the settings used for any key missing from the config file.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Port:                 1883,
		RetryIntervalSeconds: int(mqtt.DefaultRetryInterval.Seconds()),
		MaxRetries:           mqtt.DefaultMaxRetries,
		MailboxSize:          100,
	}
}

// LoadBrokerConfig reads a properties-format config file (port, username, password,
// retry_interval_seconds, max_retries, mailbox_size). An empty path resolves to
// DefaultConfigPath. A missing file is not an error - DefaultBrokerConfig is returned as-is.
func LoadBrokerConfig(path string) (BrokerConfig, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return BrokerConfig{}, err
	}

	cfg := DefaultBrokerConfig()

	v := viper.New()
	v.SetConfigFile(expanded)
	v.SetConfigType("props")
	v.SetDefault("port", cfg.Port)
	v.SetDefault("retry_interval_seconds", cfg.RetryIntervalSeconds)
	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("mailbox_size", cfg.MailboxSize)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return BrokerConfig{}, err
	}

	cfg.Port = v.GetInt("port")
	cfg.Username = v.GetString("username")
	cfg.Password = v.GetString("password")
	cfg.RetryIntervalSeconds = v.GetInt("retry_interval_seconds")
	cfg.MaxRetries = v.GetInt("max_retries")
	cfg.MailboxSize = v.GetInt("mailbox_size")
	return cfg, nil
}

// ConfigDir returns the directory LoadBrokerConfig's default path lives in. It does not create
// the directory.
func ConfigDir() (string, error) {
	expanded, err := homedir.Expand(DefaultConfigPath)
	if err != nil {
		return "", err
	}
	return filepath.Dir(expanded), nil
}
