package room

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConcurrentJoinsYieldDistinctCounts(t *testing.T) {
	reg := NewMemoryRoomRegistry()
	ctx := context.Background()

	const n = 64
	counts := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, err := reg.UpsertJoin(ctx, "r1")
			if assert.NoError(t, err) {
				counts <- room.AccumulatedMembersCount
			}
		}()
	}
	wg.Wait()
	close(counts)

	seen := make(map[int64]bool)
	for c := range counts {
		assert.False(t, seen[c], "count %d handed out twice", c)
		seen[c] = true
	}
	assert.Len(t, seen, n)

	room, err := reg.FindOne(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), room.AccumulatedMembersCount)
}

func TestMemoryDecrementRejectsMissingAndEmpty(t *testing.T) {
	reg := NewMemoryRoomRegistry()
	ctx := context.Background()

	_, err := reg.DecrementOnLeave(ctx, "r1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = reg.UpsertJoin(ctx, "r1")
	require.NoError(t, err)
	room, err := reg.DecrementOnLeave(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), room.AccumulatedMembersCount)

	_, err = reg.DecrementOnLeave(ctx, "r1")
	assert.ErrorIs(t, err, ErrRoomEmpty)
}

func TestMemoryListAndDelete(t *testing.T) {
	reg := NewMemoryRoomRegistry()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := reg.UpsertJoin(ctx, id)
		require.NoError(t, err)
	}

	list, err := reg.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = reg.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, reg.Delete(ctx, "b"), ErrRoomOccupied)
	_, err = reg.DecrementOnLeave(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, "b"))
	assert.ErrorIs(t, reg.Delete(ctx, "b"), ErrRoomNotFound)
	_, err = reg.FindOne(ctx, "b")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
