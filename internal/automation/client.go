package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/invoice-pipeline/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries bounds attempts per Execute invocation.
	DefaultMaxRetries = 3

	defaultBackoffUnit    = time.Second
	defaultAttemptTimeout = 30 * time.Second
)

// AttemptRecorder receives the outcome of every call attempt. The metrics
// collector implements it.
type AttemptRecorder interface {
	RecordAttempt(endpoint string, success bool, elapsed time.Duration)
}

// CallAttempt is the audit record of one call attempt.
type CallAttempt struct {
	Endpoint      string
	AttemptNumber int
	Success       bool
	ErrorMessage  string
	ElapsedMillis int64
}

// AttemptSink persists call attempts for audit.
type AttemptSink interface {
	RecordCallAttempt(ctx context.Context, attempt CallAttempt) error
}

// Client drives requests against the automation service and applies the
// retry/backoff contract uniformly across endpoints. It keeps no state
// between calls beyond its configuration.
type Client struct {
	transport      Transport
	limiter        ratelimit.RateLimiter
	recorder       AttemptRecorder
	sink           AttemptSink
	logger         *zap.Logger
	maxRetries     int
	backoffUnit    time.Duration
	attemptTimeout time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewClient(transport Transport, maxRetries int, logger *zap.Logger) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		transport:      transport,
		logger:         logger,
		maxRetries:     maxRetries,
		backoffUnit:    defaultBackoffUnit,
		attemptTimeout: defaultAttemptTimeout,
		now:            time.Now,
		sleep:          sleepWithContext,
	}, nil
}

func (c *Client) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if c == nil {
		return
	}
	c.limiter = limiter
}

func (c *Client) SetAttemptRecorder(recorder AttemptRecorder) {
	if c == nil {
		return
	}
	c.recorder = recorder
}

func (c *Client) SetAttemptSink(sink AttemptSink) {
	if c == nil {
		return
	}
	c.sink = sink
}

// Execute invokes the transport up to maxRetries times. Each failed
// attempt waits 2^attempt backoff units before the next one; the final
// failed attempt surfaces an ExhaustedRetriesError instead of waiting.
// Non-transient failures are surfaced immediately.
func (c *Client) Execute(ctx context.Context, endpoint string, payload Payload) (*Result, error) {
	if c == nil || c.transport == nil {
		return nil, fmt.Errorf("client is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, endpoint); err != nil {
				return nil, fmt.Errorf("rate limiter wait failed for %q: %w", endpoint, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		start := c.now()
		raw, err := c.transport.Do(attemptCtx, endpoint, payload)
		cancel()
		elapsed := c.now().Sub(start)

		c.observeAttempt(ctx, endpoint, attempt, elapsed, err)

		if err == nil {
			result := ParseEnvelope(raw)
			result.ElapsedMillis = elapsed.Milliseconds()
			result.AttemptNumber = attempt
			if result.Success && result.CompletedAt == "" {
				result.CompletedAt = nowTimestamp(c.now())
			}
			return &result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		delay := c.backoffDelay(attempt)
		c.logger.Info("automation call backing off",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &ExhaustedRetriesError{
		Endpoint: endpoint,
		Attempts: c.maxRetries,
		Err:      lastErr,
	}
}

// backoffDelay is 2^attempt backoff units.
func (c *Client) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := c.backoffUnit
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (c *Client) observeAttempt(ctx context.Context, endpoint string, attempt int, elapsed time.Duration, callErr error) {
	success := callErr == nil

	if success {
		c.logger.Info("automation call attempt succeeded",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int64("elapsedMillis", elapsed.Milliseconds()),
		)
	} else {
		c.logger.Warn("automation call attempt failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int64("elapsedMillis", elapsed.Milliseconds()),
			zap.Error(callErr),
		)
	}

	if c.recorder != nil {
		c.recorder.RecordAttempt(endpoint, success, elapsed)
	}

	if c.sink != nil {
		audit := CallAttempt{
			Endpoint:      endpoint,
			AttemptNumber: attempt,
			Success:       success,
			ElapsedMillis: elapsed.Milliseconds(),
		}
		if callErr != nil {
			audit.ErrorMessage = callErr.Error()
		}
		if err := c.sink.RecordCallAttempt(ctx, audit); err != nil {
			c.logger.Error("failed to persist call attempt",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
