package checkpoint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// 需要真实的 MongoDB：AGENTGRAPH_TEST_MONGO_URI=mongodb://localhost:27017
func TestMongoStore_Integration(t *testing.T) {
	uri := os.Getenv("AGENTGRAPH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AGENTGRAPH_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := client.Database("agentgraph_test_" + uuid.NewString()[:8])
	defer func() { _ = db.Drop(context.Background()) }()

	store := NewMongoStore(db, "", zap.NewNop())
	require.NoError(t, store.EnsureIndexes(ctx))

	root, err := store.Commit(ctx, "run-1", testValue(0), nil)
	require.NoError(t, err)
	child, err := store.Commit(ctx, "run-1", testValue(1), &root)
	require.NoError(t, err)

	got, err := store.Retrieve(ctx, "run-1", child)
	require.NoError(t, err)
	assert.JSONEq(t, "1", string(got.Data))

	children, err := store.ListIndex(ctx, "run-1", &root)
	require.NoError(t, err)
	assert.Equal(t, []Info{child}, children)

	all, err := store.ListIndex(ctx, "run-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []Info{root, child}, all)

	chain, err := Lineage(ctx, store, "run-1", child)
	require.NoError(t, err)
	assert.Equal(t, []Info{root, child}, chain)
}
