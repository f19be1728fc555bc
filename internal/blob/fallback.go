package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carbonproof/internal/blob/metrics"
	"carbonproof/pkg/platform/circuit"
)

// FallbackStore writes to a primary backend and routes to a secondary one
// while the primary's circuit breaker is open. With no secondary, an open
// breaker fails fast.
type FallbackStore struct {
	primary       Store
	primaryName   string
	secondary     Store
	secondaryName string
	breaker       *circuit.Breaker
	timeout       time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// ErrCircuitOpen is returned when the primary is skipped and no secondary is set.
var ErrCircuitOpen = errors.New("blob store circuit open")

type FallbackOption func(*FallbackStore)

func WithSecondary(name string, s Store) FallbackOption {
	return func(f *FallbackStore) {
		f.secondary = s
		f.secondaryName = name
	}
}

func WithBreaker(b *circuit.Breaker) FallbackOption {
	return func(f *FallbackStore) {
		if b != nil {
			f.breaker = b
		}
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) FallbackOption {
	return func(f *FallbackStore) {
		f.timeout = d
	}
}

func WithLogger(logger *slog.Logger) FallbackOption {
	return func(f *FallbackStore) {
		f.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) FallbackOption {
	return func(f *FallbackStore) {
		f.metrics = m
	}
}

func NewFallbackStore(name string, primary Store, opts ...FallbackOption) (*FallbackStore, error) {
	if primary == nil {
		return nil, errors.New("primary blob store is required")
	}
	f := &FallbackStore{
		primary:     primary,
		primaryName: name,
		breaker:     circuit.New("blob-" + name),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FallbackStore) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}
	if !f.breaker.Allow() {
		f.metrics.ObservePut(f.primaryName, "skipped", 0)
		return f.putSecondary(ctx, data, ErrCircuitOpen)
	}

	addr, err := f.put(ctx, f.primaryName, f.primary, data)
	if err == nil {
		if _, change := f.breaker.RecordSuccess(); change.Closed {
			f.logger.InfoContext(ctx, "blob store recovered", "backend", f.primaryName)
			f.metrics.SetDegraded(false)
		}
		return addr, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	if _, change := f.breaker.RecordFailure(); change.Opened {
		f.logger.WarnContext(ctx, "blob store circuit opened", "backend", f.primaryName, "error", err)
		f.metrics.SetDegraded(true)
	}
	return f.putSecondary(ctx, data, err)
}

// Degraded reports whether the primary breaker is open.
func (f *FallbackStore) Degraded() bool {
	return f.breaker.IsOpen()
}

func (f *FallbackStore) putSecondary(ctx context.Context, data []byte, cause error) (string, error) {
	if f.secondary == nil {
		return "", cause
	}
	addr, err := f.put(ctx, f.secondaryName, f.secondary, data)
	if err != nil {
		return "", fmt.Errorf("%s failed after %s: %w", f.secondaryName, cause, err)
	}
	return addr, nil
}

func (f *FallbackStore) put(ctx context.Context, name string, s Store, data []byte) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	start := time.Now()
	addr, err := s.Put(ctx, data)
	result := "ok"
	if err != nil {
		result = "error"
	}
	f.metrics.ObservePut(name, result, time.Since(start))
	return addr, err
}
