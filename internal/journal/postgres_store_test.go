package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	id := uuid.NewString()
	entry := sampleEntry(id)
	entry.ClientRequestID = "client-7"
	require.NoError(t, store.Append(ctx, entry))
	assert.True(t, errors.Is(store.Append(ctx, entry), ErrDuplicate))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Step, got.Step)
	assert.Equal(t, entry.MintTx, got.MintTx)
	assert.Equal(t, "client-7", got.ClientRequestID)

	missing, err := store.Get(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.NoError(t, store.Ping(ctx))
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), "")
	assert.Error(t, err)
}
