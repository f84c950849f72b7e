package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/metrics"
)

// InstrumentedClient records metrics and a log line for every call of the wrapped client
type InstrumentedClient struct {
	next Client
}

// WithInstrumentation wraps next with metrics and logging
func WithInstrumentation(next Client) *InstrumentedClient {
	return &InstrumentedClient{next: next}
}

// Unwrap returns the wrapped client
func (c *InstrumentedClient) Unwrap() Client {
	return c.next
}

// Complete forwards the call and records its outcome
func (c *InstrumentedClient) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, err := c.next.Complete(ctx, req)
	elapsed := time.Since(start)

	op := req.Operation
	if op == "" {
		op = "unknown"
	}
	outcome := metrics.OutcomeSuccess
	var te *TimeoutError
	switch {
	case err == nil:
	case errors.As(err, &te):
		outcome = metrics.OutcomeTimeout
	default:
		outcome = metrics.OutcomeTransport
	}
	metrics.ObserveLLM(op, outcome, elapsed)

	evt := log.Debug()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.Str("operation", op).
		Str("model", c.next.ModelFor(req)).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Int("prompt_length", len(req.Prompt)).
		Int("response_length", len(text)).
		Msg("llm call")

	return text, err
}

// ModelFor delegates to the wrapped client
func (c *InstrumentedClient) ModelFor(req Request) string {
	return c.next.ModelFor(req)
}

// Close closes the wrapped client
func (c *InstrumentedClient) Close() error {
	return c.next.Close()
}
