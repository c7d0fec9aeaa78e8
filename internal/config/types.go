package config

import "time"

// TargetType defines where a handler sends its batches
type TargetType string

const (
	TargetLog    TargetType = "log"
	TargetHTTP   TargetType = "http"
	TargetKafka  TargetType = "kafka"
	TargetPlugin TargetType = "plugin"
)

// DispatchMode defines where batches are executed
type DispatchMode string

const (
	DispatchInline DispatchMode = "inline"
	DispatchAsync  DispatchMode = "async"
)

// Config represents the main configuration structure
type Config struct {
	Host            string          `json:"host"`
	Port            int             `json:"port"`
	WSPort          int             `json:"wsPort"`
	LogLevel        string          `json:"logLevel"`
	MaxBodySize     int64           `json:"maxBodySize"`
	SweepInterval   int             `json:"sweepInterval"` // ms
	FlushOnShutdown bool            `json:"flushOnShutdown"`
	HistorySize     int             `json:"historySize"`
	Dispatch        *DispatchConfig `json:"dispatch,omitempty"`
	Plugins         *PluginConfig   `json:"plugins,omitempty"`
	Kafka           *KafkaConfig    `json:"kafka,omitempty"`
	Handlers        []HandlerConfig `json:"handlers"`
}

// DispatchConfig represents batch execution configuration
type DispatchConfig struct {
	Mode        DispatchMode `json:"mode"`
	Concurrency int          `json:"concurrency"`
}

// PluginConfig represents plugin configuration
type PluginConfig struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"` // path to plugins directory
	Timeout   int    `json:"timeout"`   // execution timeout in milliseconds
}

// KafkaConfig holds the brokers shared by all kafka targets
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
}

// HandlerConfig represents one registered batch handler.
// A non-positive size or timeout disables that trigger.
type HandlerConfig struct {
	Name    string       `json:"name"`
	Size    int          `json:"size"`
	Timeout int          `json:"timeout"` // ms since the first item of the batch
	Target  TargetConfig `json:"target"`
}

// TargetConfig represents the destination of a handler's batches
type TargetConfig struct {
	Type           TargetType            `json:"type"`
	URL            string                `json:"url,omitempty"`
	Headers        map[string]string     `json:"headers,omitempty"`
	Timeout        int                   `json:"timeout,omitempty"` // ms, http only
	Topic          string                `json:"topic,omitempty"`
	Plugin         string                `json:"plugin,omitempty"` // defaults to the handler name
	CircuitBreaker *CircuitBreakerConfig `json:"circuitBreaker,omitempty"`
}

// CircuitBreakerConfig configures the breaker in front of an http target
type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled"`
	FailureThreshold    int  `json:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests"`
}

// Default values
const (
	DefaultHost              = "localhost"
	DefaultPort              = 8645
	DefaultWSPort            = 8646
	DefaultLogLevel          = "info"
	DefaultMaxBodySize       = int64(0) // 0 means no limit
	DefaultSweepInterval     = 60000    // ms
	DefaultHistorySize       = 1000
	DefaultDispatchMode      = DispatchInline
	DefaultAsyncConcurrency  = 8
	DefaultPluginDirectory   = "./plugins"
	DefaultPluginTimeout     = 30000 // ms
	DefaultHTTPTargetTimeout = 10000 // ms
)

// GetSweepIntervalDuration returns sweep interval as time.Duration
func (c *Config) GetSweepIntervalDuration() time.Duration {
	return time.Duration(c.SweepInterval) * time.Millisecond
}

// GetDispatchMode returns the configured dispatch mode
func (c *Config) GetDispatchMode() DispatchMode {
	if c.Dispatch == nil || c.Dispatch.Mode == "" {
		return DefaultDispatchMode
	}
	return c.Dispatch.Mode
}

// GetDispatchConcurrency returns the async worker count
func (c *Config) GetDispatchConcurrency() int {
	if c.Dispatch == nil || c.Dispatch.Concurrency <= 0 {
		return DefaultAsyncConcurrency
	}
	return c.Dispatch.Concurrency
}

// IsPluginsEnabled returns true if plugins are configured and enabled
func (c *Config) IsPluginsEnabled() bool {
	return c.Plugins != nil && c.Plugins.Enabled
}

// GetPluginDirectory returns the plugins directory path
func (c *Config) GetPluginDirectory() string {
	if c.Plugins == nil || c.Plugins.Directory == "" {
		return DefaultPluginDirectory
	}
	return c.Plugins.Directory
}

// GetPluginTimeoutDuration returns plugin timeout as time.Duration
func (c *Config) GetPluginTimeoutDuration() time.Duration {
	if c.Plugins == nil || c.Plugins.Timeout == 0 {
		return time.Duration(DefaultPluginTimeout) * time.Millisecond
	}
	return time.Duration(c.Plugins.Timeout) * time.Millisecond
}

// GetKafkaBrokers returns the configured kafka brokers
func (c *Config) GetKafkaBrokers() []string {
	if c.Kafka == nil {
		return nil
	}
	return c.Kafka.Brokers
}

// GetTimeoutDuration returns the time threshold as time.Duration
func (h *HandlerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(h.Timeout) * time.Millisecond
}

// GetPluginName returns the plugin handling this handler's batches
func (h *HandlerConfig) GetPluginName() string {
	if h.Target.Plugin != "" {
		return h.Target.Plugin
	}
	return h.Name
}

// GetTimeoutDuration returns the http request timeout as time.Duration
func (t *TargetConfig) GetTimeoutDuration() time.Duration {
	if t.Timeout <= 0 {
		return time.Duration(DefaultHTTPTargetTimeout) * time.Millisecond
	}
	return time.Duration(t.Timeout) * time.Millisecond
}

// GetRecoveryTimeoutDuration returns recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}
