package postgres

import (
	"context"
	"os"
	"testing"

	"codecollab-server/stores/storetest"

	"github.com/stretchr/testify/require"
)

// These tests need a running PostgreSQL; set DATABASE_URL to enable them.
// Ids are random per test so a shared database is fine.
func newTestStore(t *testing.T) *pgStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	store, err := NewStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestStore(t)
	})
}
