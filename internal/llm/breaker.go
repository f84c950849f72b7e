package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when the gateway stops sending requests upstream
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	FailureThreshold float64
}

// DefaultBreakerConfig trips after half of at least five calls fail and probes again after 30s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.5,
	}
}

// BreakerClient wraps a Client with a circuit breaker.
// While open, calls fail fast with a TransportError instead of waiting on a dead upstream.
type BreakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker[string]
}

// NewBreakerClient wraps next with a circuit breaker
func NewBreakerClient(next Client, cfg BreakerConfig) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        "llm-gateway",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("name", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		// a caller abandoning its request says nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerClient{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Complete runs the request through the breaker
func (b *BreakerClient) Complete(ctx context.Context, req Request) (string, error) {
	text, err := b.cb.Execute(func() (string, error) {
		return b.next.Complete(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &TransportError{Message: "model gateway unavailable", Cause: err}
	}
	return text, err
}

// ModelFor delegates to the wrapped client
func (b *BreakerClient) ModelFor(req Request) string {
	return b.next.ModelFor(req)
}

// Close closes the wrapped client
func (b *BreakerClient) Close() error {
	return b.next.Close()
}

// State returns the breaker state name
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

// IsHealthy returns true if the breaker is closed
func (b *BreakerClient) IsHealthy() bool {
	return b.cb.State() == gobreaker.StateClosed
}

// FindBreaker returns the breaker in a chain of wrapping clients, or nil when there is none
func FindBreaker(c Client) *BreakerClient {
	for c != nil {
		if b, ok := c.(*BreakerClient); ok {
			return b
		}
		w, ok := c.(interface{ Unwrap() Client })
		if !ok {
			return nil
		}
		c = w.Unwrap()
	}
	return nil
}
