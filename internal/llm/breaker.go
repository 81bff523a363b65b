package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nichescout/nichescout/internal/config"
)

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

// Breaker fails fast once the wrapped client has failed repeatedly, so a
// dead model server does not stall every worker turn for a full timeout.
type Breaker struct {
	inner Client
	name  string
	cb    *gobreaker.CircuitBreaker[*ChatResponse]
}

func NewBreaker(inner Client, name string, cfg config.CircuitBreakerConfig) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[*ChatResponse](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A cancelled run says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Breaker{inner: inner, name: name, cb: cb}
}

func (b *Breaker) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := b.cb.Execute(func() (*ChatResponse, error) {
		return b.inner.Chat(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("provider %q: %w: %v", b.name, ErrCircuitOpen, err)
		}
		return nil, err
	}
	return resp, nil
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}
