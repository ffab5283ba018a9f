package resilience

import (
	"time"

	"github.com/sells-group/invoice-cli/internal/config"
)

// FromPipelineConfig builds the per-stage retry policy.
func FromPipelineConfig(cfg config.PipelineConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.RetryMaxAttempts > 0 {
		rc.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(cfg.RetryInitialBackoffMs) * time.Millisecond
	}
	if cfg.RetryMaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(cfg.RetryMaxBackoffMs) * time.Millisecond
	}
	if cfg.RetryMultiplier > 0 {
		rc.Multiplier = cfg.RetryMultiplier
	}
	if cfg.RetryJitterFraction > 0 {
		rc.JitterFraction = cfg.RetryJitterFraction
	}
	return rc
}

// FromCircuitConfig builds a named breaker config.
func FromCircuitConfig(name string, cfg config.CircuitConfig) CircuitBreakerConfig {
	cb := DefaultCircuitBreakerConfig()
	cb.Name = name
	if cfg.FailureThreshold > 0 {
		cb.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		cb.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return cb
}
