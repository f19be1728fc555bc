package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonproof/internal/blob"
	"carbonproof/pkg/platform/sentinel"
)

func TestStore_PutIsContentAddressed(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	b, err := s.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	c, err := s.Put(ctx, []byte(`{"a":2}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	got, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))
}

func TestStore_Errors(t *testing.T) {
	s := New()
	_, err := s.Put(context.Background(), nil)
	assert.ErrorIs(t, err, blob.ErrEmptyContent)

	_, err = s.Get(context.Background(), "sha256:missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
