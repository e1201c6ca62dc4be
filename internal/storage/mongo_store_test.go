package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Set SKILLSWAP_TEST_MONGO_URI (e.g. mongodb://localhost:27017) to run against a real server.
func TestMongoConnectionStore(t *testing.T) {
	uri := os.Getenv("SKILLSWAP_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("SKILLSWAP_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	runConnectionStoreContract(t, func(t *testing.T) ConnectionStore {
		db := client.Database("skillswap_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
		t.Cleanup(func() { db.Drop(context.Background()) })
		return NewMongoConnectionStore(db, NewChannelFeed(nil), zap.NewNop())
	})
}
