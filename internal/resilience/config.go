package resilience

import (
	"time"

	"github.com/sells-group/signal-outcomes/internal/config"
)

// ProviderPolicies derives the retry and circuit-breaker settings for a
// market-data provider from its config block.
func ProviderPolicies(cfg config.ProviderConfig) (RetryConfig, CircuitBreakerConfig) {
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	retry.OnRetry = RetryLogger(cfg.Name, "")

	cb := DefaultCircuitBreakerConfig()
	cb.Name = cfg.Name
	if cfg.FailureThreshold > 0 {
		cb.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		cb.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return retry, cb
}
