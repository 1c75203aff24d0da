package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited spaces out calls to a provider with a token bucket. Callers block
// until a token is available or ctx is done.
type Limited struct {
	next    Provider
	limiter *rate.Limiter
}

// NewLimited allows perMinute calls per minute with the given burst.
// perMinute <= 0 disables limiting.
func NewLimited(next Provider, perMinute float64, burst int) *Limited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) Name() string {
	return l.next.Name()
}

func (l *Limited) Chat(ctx context.Context, messages []Message, params Params) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fail(l.Name(), "rate limit", err)
	}
	return l.next.Chat(ctx, messages, params)
}
