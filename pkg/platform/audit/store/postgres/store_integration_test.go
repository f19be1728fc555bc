//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "carbonproof/pkg/platform/audit"
	"carbonproof/pkg/testutil/containers"
)

func TestStore_AppendAndList(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()
	store := New(pg.DB)

	id := uuid.NewString()
	event := audit.Event{
		ID:          id,
		Timestamp:   time.Now().UTC().Truncate(time.Microsecond),
		ProjectID:   42,
		Action:      string(audit.EventProjectValidated),
		Decision:    "VERIFIED",
		ContentHash: "abc",
	}
	require.NoError(t, store.Append(ctx, event))
	require.NoError(t, store.Append(ctx, event), "duplicate IDs are ignored")

	events, err := store.ListByProject(ctx, 42)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.Equal(t, "VERIFIED", events[0].Decision)

	recent, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
