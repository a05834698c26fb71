package journal

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(id string) Entry {
	now := time.Now().UTC()
	return Entry{
		ID:          id,
		Receiver:    "0x00000000000000000000000000000000000000aa",
		Destination: "7000",
		Success:     false,
		State:       "TransferFailed",
		Step:        "transfer",
		Error:       "reverted",
		MintTx:      "0x01",
		StartedAt:   now.Add(-time.Second),
		FinishedAt:  now,
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Append(ctx, sampleEntry("abc")))
	got, err = store.Get(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "transfer", got.Step)
	assert.Equal(t, "0x01", got.MintTx)
	assert.NoError(t, store.Ping(ctx))
}

func TestMemoryStoreIsAppendOnly(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, sampleEntry("abc")))
	replacement := sampleEntry("abc")
	replacement.Success = true
	err := store.Append(ctx, replacement)
	assert.True(t, errors.Is(err, ErrDuplicate))

	got, _ := store.Get(ctx, "abc")
	assert.False(t, got.Success)

	assert.Error(t, store.Append(ctx, sampleEntry("")))
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, sampleEntry(id)))
	}

	assert.Equal(t, 2, store.Len())
	got, _ := store.Get(ctx, "a")
	assert.Nil(t, got)
	got, _ = store.Get(ctx, "c")
	assert.NotNil(t, got)
}
