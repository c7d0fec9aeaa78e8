package target

import (
	"fmt"

	"github.com/rs/zerolog"

	"batchable/internal/config"
	"batchable/internal/plugin"
)

// Build creates the target of a handler. plugins may be nil when no handler
// uses a plugin target.
func Build(hc config.HandlerConfig, cfg *config.Config, plugins plugin.Manager, logger zerolog.Logger) (Target, error) {
	logger = logger.With().
		Str("component", "target").
		Str("handler", hc.Name).
		Str("type", string(hc.Target.Type)).
		Logger()

	switch hc.Target.Type {
	case config.TargetLog, "":
		return NewLogTarget(logger), nil

	case config.TargetHTTP:
		var breaker *Breaker
		if cb := hc.Target.CircuitBreaker; cb != nil {
			breaker = NewBreaker(BreakerConfig{
				Enabled:             cb.Enabled,
				FailureThreshold:    cb.FailureThreshold,
				RecoveryTimeout:     cb.GetRecoveryTimeoutDuration(),
				HalfOpenMaxRequests: cb.HalfOpenMaxRequests,
			}, logger)
		}
		return NewHTTPTarget(hc.Target.URL, hc.Target.Headers, hc.Target.GetTimeoutDuration(), breaker, logger), nil

	case config.TargetKafka:
		brokers := cfg.GetKafkaBrokers()
		if len(brokers) == 0 {
			return nil, fmt.Errorf("handler %s: no kafka brokers configured", hc.Name)
		}
		return NewKafkaTarget(brokers, hc.Target.Topic, logger), nil

	case config.TargetPlugin:
		name := hc.GetPluginName()
		if plugins == nil || !plugins.Has(name) {
			return nil, fmt.Errorf("handler %s: no plugin loaded for %s", hc.Name, name)
		}
		return NewPluginTarget(name, plugins), nil

	default:
		return nil, fmt.Errorf("handler %s: unknown target type %s", hc.Name, hc.Target.Type)
	}
}
