package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/engramhq/engram/internal/domain"
)

const (
	breakerName     = "embedder"
	breakerCooldown = 30 * time.Second
)

// Breaker wraps an Embedder so a single failure opens the circuit and every
// call in the following cooldown window fails fast instead of re-dialing a
// runtime that is known to be down. Recall and ingest stay responsive while
// the runtime is offline; they degrade per call rather than block on it.
type Breaker struct {
	inner domain.Embedder
	cb    *gobreaker.CircuitBreaker[[]float32]
}

// BreakerOption adjusts breaker settings before construction.
type BreakerOption func(*gobreaker.Settings)

// WithCooldown overrides how long the circuit stays open after a trip.
func WithCooldown(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		if d > 0 {
			s.Timeout = d
		}
	}
}

func NewBreaker(inner domain.Embedder, opts ...BreakerOption) *Breaker {
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		// Caller cancelation says nothing about runtime health; a timeout
		// (hung runtime) does and must trip.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return &Breaker{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[[]float32](settings),
	}
}

func (b *Breaker) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := b.cb.Execute(func() ([]float32, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.ErrEmbedderUnavailable
		}
		return nil, err
	}
	return vec, nil
}

// Available reports whether the circuit would admit a call right now. It is
// true before the first call and again once the cooldown has elapsed.
func (b *Breaker) Available() bool {
	return b.cb.State() != gobreaker.StateOpen
}

func (b *Breaker) Info() domain.ModelInfo {
	info := b.inner.Info()
	info.Available = b.Available()
	return info
}

var _ domain.Embedder = (*Breaker)(nil)
