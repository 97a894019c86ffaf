package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces request starts per provider.
type Pacer struct {
	mu              sync.Mutex
	defaultInterval time.Duration
	limiters        map[string]*rate.Limiter
}

// NewPacer creates a Pacer using defaultInterval for providers without an
// explicit interval. A zero interval disables pacing.
func NewPacer(defaultInterval time.Duration) *Pacer {
	return &Pacer{
		defaultInterval: defaultInterval,
		limiters:        make(map[string]*rate.Limiter),
	}
}

// SetInterval sets the minimum spacing for one provider.
func (p *Pacer) SetInterval(provider string, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[provider]; ok {
		l.SetLimit(limitFor(interval))
		return
	}
	p.limiters[provider] = rate.NewLimiter(limitFor(interval), 1)
}

// Interval returns the spacing in effect for provider.
func (p *Pacer) Interval(provider string) time.Duration {
	l := p.limiter(provider)
	if l.Limit() == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.Limit()))
}

// WaitIfNeeded blocks until the provider's interval has elapsed since the
// previous call, then records the current call. It returns an error only if
// ctx ends first.
func (p *Pacer) WaitIfNeeded(ctx context.Context, provider string) error {
	return p.limiter(provider).Wait(ctx)
}

func (p *Pacer) limiter(provider string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[provider]
	if !ok {
		l = rate.NewLimiter(limitFor(p.defaultInterval), 1)
		p.limiters[provider] = l
	}
	return l
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
