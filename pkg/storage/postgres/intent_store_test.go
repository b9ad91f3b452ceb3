package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/intentmesh/pkg/storage"
	"github.com/speedrun-hq/intentmesh/pkg/storage/storagetest"
)

func TestIntentStoreConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	storagetest.Run(t, func(t *testing.T, opts ...storage.Option) storage.IntentStore {
		_, err := pool.Exec(context.Background(), "TRUNCATE intents")
		require.NoError(t, err)
		// The pool is shared across subtests and closed by cleanup.
		return &IntentStore{pool: pool, opts: storage.ApplyOptions(opts...)}
	})
}
