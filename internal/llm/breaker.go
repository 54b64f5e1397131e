package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrServiceOpen is returned while the breaker rejects calls outright.
var ErrServiceOpen = errors.New("llm service circuit is open")

// breakerState tracks whether calls flow, probe, or are rejected.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

// BreakerConfig tunes the circuit around the LLM service.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	OpenTimeout      time.Duration // how long to reject before probing
	ProbeSuccesses   int           // successes in half-open needed to close
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		ProbeSuccesses:   2,
	}
}

// Breaker wraps a Client with a circuit breaker so a dead LLM service
// fails runs fast instead of burning the stage timeout on every call.
type Breaker struct {
	inner  Client
	cfg    BreakerConfig
	logger *zap.Logger

	mu        sync.Mutex
	state     breakerState
	failures  int
	successes int
	openedAt  time.Time
}

func NewBreaker(inner Client, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if cfg.ProbeSuccesses <= 0 {
		cfg.ProbeSuccesses = DefaultBreakerConfig().ProbeSuccesses
	}
	return &Breaker{inner: inner, cfg: cfg, logger: logger}
}

func (b *Breaker) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := b.before(); err != nil {
		return nil, err
	}
	completion, err := b.inner.Complete(ctx, req)
	b.after(err == nil)
	return completion, err
}

// GenerateStructured participates in the typed fast path when the inner
// client supports it, sharing the same circuit.
func (b *Breaker) GenerateStructured(ctx context.Context, req Request, schemaJSON []byte) (*Completion, error) {
	gen, ok := b.inner.(TypedGenerator)
	if !ok {
		return nil, ErrTypedGenerationUnsupported
	}
	if err := b.before(); err != nil {
		return nil, err
	}
	completion, err := gen.GenerateStructured(ctx, req, schemaJSON)
	b.after(err == nil)
	return completion, err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen {
		if time.Since(b.openedAt) < b.cfg.OpenTimeout {
			return ErrServiceOpen
		}
		b.transition(breakerHalfOpen)
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.failures = 0
		if b.state == breakerHalfOpen {
			b.successes++
			if b.successes >= b.cfg.ProbeSuccesses {
				b.transition(breakerClosed)
			}
		}
		return
	}

	b.successes = 0
	if b.state == breakerHalfOpen {
		b.transition(breakerOpen)
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.transition(breakerOpen)
	}
}

// transition assumes b.mu is held.
func (b *Breaker) transition(to breakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == breakerOpen {
		b.openedAt = time.Now()
	}
	b.logger.Warn("LLM circuit state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
