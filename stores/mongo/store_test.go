package mongo

import (
	"context"
	"os"
	"strings"
	"testing"

	"codecollab-server/stores/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// These tests need a running MongoDB; set MONGO_URI to enable them.
func newTestStore(t *testing.T) *mongoStore {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	database := "codecollab_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	store, err := NewStore(context.Background(), uri, database)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.client.Database(database).Drop(context.Background())
		_ = store.Close()
	})
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestStore(t)
	})
}
