package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override values from the config file
const (
	EnvHost          = "BATCHABLE_HOST"
	EnvPort          = "BATCHABLE_PORT"
	EnvWSPort        = "BATCHABLE_WS_PORT"
	EnvLogLevel      = "BATCHABLE_LOG_LEVEL"
	EnvSweepInterval = "BATCHABLE_SWEEP_INTERVAL"
	EnvKafkaBrokers  = "BATCHABLE_KAFKA_BROKERS"
)

// Load reads and parses the configuration file. Variables from envFiles
// (or ./.env when none are given) are loaded into the environment first and
// override file values.
func Load(path string, envFiles ...string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		// .env is optional
		_ = godotenv.Load()
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides config values with non-empty environment variables
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvHost); v != "" {
		cfg.Host = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Port = port
	}
	if v := getenv(EnvWSPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWSPort, err)
		}
		cfg.WSPort = port
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv(EnvSweepInterval); v != "" {
		interval, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSweepInterval, err)
		}
		cfg.SweepInterval = interval
	}
	if v := getenv(EnvKafkaBrokers); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		if cfg.Kafka == nil {
			cfg.Kafka = &KafkaConfig{}
		}
		cfg.Kafka.Brokers = brokers
	}
	return nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = DefaultWSPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	for i := range cfg.Handlers {
		if cfg.Handlers[i].Target.Type == "" {
			cfg.Handlers[i].Target.Type = TargetLog
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if len(cfg.Handlers) == 0 {
		return errors.New("at least one handler is required")
	}

	names := make(map[string]bool)
	for i, h := range cfg.Handlers {
		if h.Name == "" {
			return fmt.Errorf("handler[%d]: name is required", i)
		}

		if names[h.Name] {
			return fmt.Errorf("handler[%d]: duplicate handler name '%s'", i, h.Name)
		}
		names[h.Name] = true

		if h.Size <= 0 && h.Timeout <= 0 {
			return fmt.Errorf("handler '%s': at least one of size or timeout must be positive", h.Name)
		}

		if err := validateTarget(cfg, h); err != nil {
			return fmt.Errorf("handler '%s': %w", h.Name, err)
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if cfg.WSPort < 1 || cfg.WSPort > 65535 {
		return fmt.Errorf("wsPort must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.SweepInterval < 0 {
		return fmt.Errorf("sweepInterval must be non-negative")
	}

	if cfg.HistorySize < 0 {
		return fmt.Errorf("historySize must be non-negative")
	}

	if cfg.Dispatch != nil {
		switch cfg.Dispatch.Mode {
		case "", DispatchInline, DispatchAsync:
		default:
			return fmt.Errorf("dispatch.mode must be 'inline' or 'async'")
		}
		if cfg.Dispatch.Concurrency < 0 {
			return fmt.Errorf("dispatch.concurrency must be non-negative")
		}
	}

	return nil
}

// validateTarget checks the fields required by each target type
func validateTarget(cfg *Config, h HandlerConfig) error {
	switch h.Target.Type {
	case TargetLog:
		return nil
	case TargetHTTP:
		if h.Target.URL == "" {
			return errors.New("http target requires url")
		}
		if !strings.HasPrefix(h.Target.URL, "http://") && !strings.HasPrefix(h.Target.URL, "https://") {
			return fmt.Errorf("http target url must start with http:// or https://")
		}
		return nil
	case TargetKafka:
		if h.Target.Topic == "" {
			return errors.New("kafka target requires topic")
		}
		if len(cfg.GetKafkaBrokers()) == 0 {
			return errors.New("kafka target requires kafka.brokers")
		}
		return nil
	case TargetPlugin:
		if !cfg.IsPluginsEnabled() {
			return errors.New("plugin target requires plugins to be enabled")
		}
		return nil
	default:
		return fmt.Errorf("unknown target type '%s'", h.Target.Type)
	}
}
