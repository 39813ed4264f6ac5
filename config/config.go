// Package config loads the gateway configuration.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall gateway configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Modem    ModemConfig    `yaml:"modem"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

// SerialConfig holds the serial link configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ModemConfig holds the per-operation modem timeouts.
//
// The defaults mirror the observed behaviour of SIM800 class modules:
// plain commands answer within a second or two, reading a stored message
// takes longer, and a network send can take several seconds.
type ModemConfig struct {
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`
	ReadTimeoutSeconds    int `yaml:"read_timeout_seconds"`
	SendTimeoutSeconds    int `yaml:"send_timeout_seconds"`

	CommandTimeout time.Duration `yaml:"-"` // Ignored by YAML parser
	ReadTimeout    time.Duration `yaml:"-"`
	SendTimeout    time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// GatewayConfig holds the message-processing configuration.
type GatewayConfig struct {
	QueueSize           int     `yaml:"queue_size"`
	AuthCacheTTLSeconds int     `yaml:"auth_cache_ttl_seconds"`
	ReplyRatePerMinute  float64 `yaml:"reply_rate_per_minute"`
	ReplyBurst          int     `yaml:"reply_burst"`

	AuthCacheTTL time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no config file is provided.
func Default() *Config {
	cfg := Config{}
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Serial.Baud <= 0 {
		cfg.Serial.Baud = 9600
	}

	if cfg.Modem.CommandTimeoutSeconds <= 0 {
		cfg.Modem.CommandTimeoutSeconds = 2
	}
	if cfg.Modem.ReadTimeoutSeconds <= 0 {
		cfg.Modem.ReadTimeoutSeconds = 5
	}
	if cfg.Modem.SendTimeoutSeconds <= 0 {
		cfg.Modem.SendTimeoutSeconds = 10
	}
	cfg.Modem.CommandTimeout = time.Duration(cfg.Modem.CommandTimeoutSeconds) * time.Second
	cfg.Modem.ReadTimeout = time.Duration(cfg.Modem.ReadTimeoutSeconds) * time.Second
	cfg.Modem.SendTimeout = time.Duration(cfg.Modem.SendTimeoutSeconds) * time.Second

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "smsgateway.db"
	}

	if cfg.Gateway.QueueSize <= 0 {
		cfg.Gateway.QueueSize = 16
	}
	if cfg.Gateway.AuthCacheTTLSeconds <= 0 {
		cfg.Gateway.AuthCacheTTLSeconds = 300
	}
	cfg.Gateway.AuthCacheTTL = time.Duration(cfg.Gateway.AuthCacheTTLSeconds) * time.Second
	if cfg.Gateway.ReplyRatePerMinute <= 0 {
		cfg.Gateway.ReplyRatePerMinute = 6
	}
	if cfg.Gateway.ReplyBurst <= 0 {
		cfg.Gateway.ReplyBurst = 3
	}
}
