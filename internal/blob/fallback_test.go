package blob_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonproof/internal/blob"
	"carbonproof/internal/blob/memory"
	"carbonproof/pkg/platform/circuit"
)

type flakyStore struct {
	err   error
	calls atomic.Int32
}

func (f *flakyStore) Put(ctx context.Context, data []byte) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "primary:" + blob.Digest(data), nil
}

type blockingStore struct{}

func (blockingStore) Put(ctx context.Context, _ []byte) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestFallbackStore_UsesPrimaryWhenHealthy(t *testing.T) {
	primary := &flakyStore{}
	secondary := memory.New()
	f, err := blob.NewFallbackStore("ipfs", primary, blob.WithSecondary("memory", secondary), blob.WithLogger(discard))
	require.NoError(t, err)

	addr, err := f.Put(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Contains(t, addr, "primary:")
	assert.Zero(t, secondary.Puts())
}

func TestFallbackStore_OpensAndRoutesToSecondary(t *testing.T) {
	primary := &flakyStore{err: errors.New("connection refused")}
	secondary := memory.New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuit.New("blob",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	f, err := blob.NewFallbackStore("ipfs", primary,
		blob.WithSecondary("memory", secondary),
		blob.WithBreaker(breaker),
		blob.WithLogger(discard),
	)
	require.NoError(t, err)

	for range 4 {
		addr, err := f.Put(context.Background(), []byte(`{"a":1}`))
		require.NoError(t, err)
		assert.Contains(t, addr, "sha256:")
	}
	assert.True(t, f.Degraded())
	assert.Equal(t, int32(2), primary.calls.Load(), "open breaker skips the primary")

	primary.err = nil
	now = now.Add(2 * time.Minute)
	addr, err := f.Put(context.Background(), []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Contains(t, addr, "primary:")
	assert.False(t, f.Degraded())
}

func TestFallbackStore_NoSecondaryReturnsError(t *testing.T) {
	down := errors.New("connection refused")
	f, err := blob.NewFallbackStore("ipfs", &flakyStore{err: down},
		blob.WithBreaker(circuit.New("blob", circuit.WithFailureThreshold(1))),
		blob.WithLogger(discard),
	)
	require.NoError(t, err)

	_, err = f.Put(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, down)

	_, err = f.Put(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, blob.ErrCircuitOpen)
}

func TestFallbackStore_Timeout(t *testing.T) {
	f, err := blob.NewFallbackStore("ipfs", blockingStore{},
		blob.WithTimeout(10*time.Millisecond),
		blob.WithLogger(discard),
	)
	require.NoError(t, err)

	_, err = f.Put(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewFallbackStore_RequiresPrimary(t *testing.T) {
	_, err := blob.NewFallbackStore("ipfs", nil)
	assert.Error(t, err)
}
