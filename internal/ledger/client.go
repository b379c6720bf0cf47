package ledger

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"sessionvault/internal/config"
	"sessionvault/internal/metrics"
)

// RateLimited wraps a Client with a token bucket limiter. Waiting for a
// token honors ctx; a cancelled wait is a retryable submission error.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited limits next to perSec submissions with the given burst.
func NewRateLimited(next Client, perSec float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

// Submit waits for a token then delegates.
func (r *RateLimited) Submit(ctx context.Context, p *Payload) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", submissionErr("rate limit wait: %v", err)
	}
	return r.next.Submit(ctx, p)
}

// Close closes the wrapped client.
func (r *RateLimited) Close() error {
	return r.next.Close()
}

// Instrumented records submission counts and latency per backend.
type Instrumented struct {
	next    Client
	backend string
	metrics *metrics.Metrics
}

// NewInstrumented wraps next with metrics under the backend label.
func NewInstrumented(next Client, backend string, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, backend: backend, metrics: m}
}

// Submit delegates and records the outcome.
func (i *Instrumented) Submit(ctx context.Context, p *Payload) (string, error) {
	start := time.Now()
	txid, err := i.next.Submit(ctx, p)
	i.metrics.RecordLedgerSubmit(i.backend, time.Since(start), err)
	return txid, err
}

// Close closes the wrapped client.
func (i *Instrumented) Close() error {
	return i.next.Close()
}

// Open builds the configured backend, wrapped with rate limiting and
// metrics.
func Open(cfg config.LedgerConfig, m *metrics.Metrics) (Client, error) {
	var c Client
	switch cfg.Backend {
	case "memory", "":
		c = NewMemoryLedger()
	case "http":
		c = NewHTTPClient(cfg.Endpoint, WithBearerToken(cfg.APIToken))
	case "amqp":
		ac, err := DialAMQP(AMQPConfig{
			URL:         cfg.AMQPURL,
			Exchange:    cfg.Exchange,
			RoutingKey:  cfg.RoutingKey,
			DialRetries: 3,
		})
		if err != nil {
			return nil, err
		}
		c = ac
	default:
		return nil, fmt.Errorf("ledger: unknown backend %q", cfg.Backend)
	}

	if cfg.RatePerSec > 0 {
		c = NewRateLimited(c, cfg.RatePerSec, cfg.RateBurst)
	}
	return NewInstrumented(c, cfg.Backend, m), nil
}
