package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_DeclaresAllTables(t *testing.T) {
	for _, table := range []string{"ledger_transactions", "validation_history", "audit_events"} {
		assert.True(t, strings.Contains(Schema(), "CREATE TABLE IF NOT EXISTS "+table), table)
	}
}

func TestOpen_EmptyURL(t *testing.T) {
	db, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestMigrate_RequiresDB(t *testing.T) {
	assert.Error(t, Migrate(context.Background(), nil))
}
