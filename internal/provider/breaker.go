package provider

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/aarii/internal/observe"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds the configuration for the circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip the circuit.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing a probe.
	Timeout time.Duration

	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests uint32
}

// DefaultBreakerConfig trips after 3 consecutive failures and probes again
// after 30 seconds.
var DefaultBreakerConfig = BreakerConfig{
	MaxFailures:         3,
	Timeout:             30 * time.Second,
	HalfOpenMaxRequests: 1,
}

// Breaker wraps a Provider with a circuit breaker so a dead endpoint fails
// fast instead of costing a full timeout on every turn.
type Breaker struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker
}

func NewBreaker(next Provider, cfg BreakerConfig, obs *observe.Observer) *Breaker {
	if obs == nil {
		obs = observe.Nop()
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// Cancellation by the caller says nothing about the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			obs.Log().Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit state changed")
		},
	}
	return &Breaker{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Name() string {
	return b.next.Name()
}

// State reports the breaker state ("closed", "half-open" or "open").
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

func (b *Breaker) Chat(ctx context.Context, messages []Message, params Params) (*Response, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Chat(ctx, messages, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fail(b.Name(), "chat", ErrCircuitOpen)
		}
		return nil, err
	}
	return out.(*Response), nil
}
