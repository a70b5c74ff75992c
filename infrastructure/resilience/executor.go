// Package resilience provides resilient tool execution using fortify.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// Executor runs tools with concurrency limits, timeouts, a circuit breaker,
// and retry for idempotent tools. Failures always come back as structured
// results; the dispatch loop never sees a Go error.
type Executor struct {
	bulkhead bulkhead.Bulkhead[tool.Result]
	breaker  circuitbreaker.CircuitBreaker[tool.Result]
	retry    retry.Retry[tool.Result]
	timeout  time.Duration
}

// ExecutorConfig configures the executor.
type ExecutorConfig struct {
	// MaxConcurrent limits concurrent tool executions.
	MaxConcurrent int

	// CircuitBreakerThreshold is the number of consecutive failures before
	// the circuit opens.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long the circuit stays open.
	CircuitBreakerTimeout time.Duration

	// RetryMaxAttempts is the maximum number of attempts for idempotent
	// tools.
	RetryMaxAttempts int

	// RetryInitialDelay is the initial delay between retries.
	RetryInitialDelay time.Duration

	// DefaultTimeout bounds a single tool execution.
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns a configuration with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:           10,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		RetryMaxAttempts:        3,
		RetryInitialDelay:       100 * time.Millisecond,
		DefaultTimeout:          60 * time.Second,
	}
}

// NewExecutor creates a new executor.
func NewExecutor(config ExecutorConfig) *Executor {
	maxConcurrent := config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	threshold := config.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}

	return &Executor{
		bulkhead: bulkhead.New[tool.Result](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
		}),
		breaker: circuitbreaker.New[tool.Result](circuitbreaker.Config{
			MaxRequests: uint32(maxConcurrent), // #nosec G115 -- bounds checked above
			Interval:    config.CircuitBreakerTimeout,
			Timeout:     config.CircuitBreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- bounds checked above
			},
		}),
		retry: retry.New[tool.Result](retry.Config{
			MaxAttempts:   config.RetryMaxAttempts,
			InitialDelay:  config.RetryInitialDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
		}),
		timeout: config.DefaultTimeout,
	}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultExecutorConfig())
}

// retryableError carries an error-status result through the retry layer so
// failed attempts are retried but the final result is still structured.
type retryableError struct {
	result tool.Result
}

func (e *retryableError) Error() string { return e.result.Error }

// Execute runs a tool and always returns a structured result.
// Composition order: bulkhead, timeout, circuit breaker, retry (idempotent
// tools only).
func (e *Executor) Execute(ctx context.Context, t tool.Tool, args map[string]any) tool.Result {
	start := time.Now()

	result, err := e.bulkhead.Execute(ctx, func(ctx context.Context) (tool.Result, error) {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		return e.breaker.Execute(ctx, func(ctx context.Context) (tool.Result, error) {
			if t.Annotations().Idempotent {
				res, err := e.retry.Do(ctx, func(ctx context.Context) (tool.Result, error) {
					res := t.Execute(ctx, args)
					if res.IsError() {
						return res, &retryableError{result: res}
					}
					return res, nil
				})
				var rerr *retryableError
				if errors.As(err, &rerr) {
					return rerr.result, nil
				}
				return res, err
			}
			return t.Execute(ctx, args), nil
		})
	})

	logging.Debug().
		Add(logging.ToolName(t.Name())).
		Add(logging.Duration(time.Since(start))).
		Add(logging.ErrorField(err)).
		Msg("tool executed")

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return tool.Errorf("tool %s timed out after %s", t.Name(), e.timeout)
		case errors.Is(err, context.Canceled):
			return tool.Errorf("tool %s was canceled", t.Name())
		default:
			return tool.Errorf("tool %s unavailable: %v", t.Name(), err)
		}
	}
	return result
}

// BreakerState returns the current circuit breaker state, for diagnostics.
func (e *Executor) BreakerState() circuitbreaker.State {
	return e.breaker.State()
}
