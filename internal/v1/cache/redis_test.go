package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/devansh6012/code-collab/internal/v1/ot"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts Options) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewServiceWithClient(client, opts), mr
}

func TestPresence_PutGetDrop(t *testing.T) {
	s, _ := newTestService(t, Options{})
	ctx := context.Background()

	p := types.PresenceInfo{UserID: "alice", Username: "Alice", Color: "#61afef", SessionID: "s1"}
	require.NoError(t, s.PutPresence(ctx, "room-1", p))

	entries, err := s.GetPresence(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, p, entries[0])

	require.NoError(t, s.DropPresence(ctx, "room-1", "alice"))
	entries, err = s.GetPresence(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPresence_OneEntryPerUser(t *testing.T) {
	s, _ := newTestService(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PutPresence(ctx, "room-1", types.PresenceInfo{UserID: "alice", SessionID: "old"}))
	require.NoError(t, s.PutPresence(ctx, "room-1", types.PresenceInfo{UserID: "alice", SessionID: "new"}))

	entries, err := s.GetPresence(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].SessionID)
}

func TestPresence_ScopedToRoom(t *testing.T) {
	s, _ := newTestService(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PutPresence(ctx, "room-1", types.PresenceInfo{UserID: "alice"}))
	require.NoError(t, s.PutPresence(ctx, "room-2", types.PresenceInfo{UserID: "bob"}))

	entries, err := s.GetPresence(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.ClientIDType("alice"), entries[0].UserID)
}

func TestPresence_ExpiresWithTTL(t *testing.T) {
	s, mr := newTestService(t, Options{PresenceTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, s.PutPresence(ctx, "room-1", types.PresenceInfo{UserID: "alice"}))
	mr.FastForward(2 * time.Minute)

	entries, err := s.GetPresence(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOps_PushListRoundTrip(t *testing.T) {
	s, _ := newTestService(t, Options{})
	ctx := context.Background()

	op := ot.Operation{Type: ot.OpInsert, Position: 3, Text: "hi", UserID: "alice", Timestamp: 42}
	require.NoError(t, s.PushOp(ctx, "f1", op))

	ops, err := s.ListOps(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, op, ops[0])
}

func TestOps_TrimmedToWindow(t *testing.T) {
	s, _ := newTestService(t, Options{OpLogWindow: 5})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, s.PushOp(ctx, "f1", ot.Operation{
			Type: ot.OpInsert, Position: i, Text: "x", UserID: "u", Timestamp: int64(i),
		}))
	}

	ops, err := s.ListOps(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, ops, 5)
	// Oldest entries are evicted first.
	assert.Equal(t, int64(7), ops[0].Timestamp)
	assert.Equal(t, int64(11), ops[4].Timestamp)
}

func TestOps_Drop(t *testing.T) {
	s, _ := newTestService(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PushOp(ctx, "f1", ot.Operation{Type: ot.OpInsert, Text: "x", UserID: "u"}))
	require.NoError(t, s.DropOps(ctx, "f1"))

	ops, err := s.ListOps(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestChat_RingKeepsMostRecent(t *testing.T) {
	s, _ := newTestService(t, Options{ChatRing: 3})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, s.PushChat(ctx, "room-1", types.ChatInfo{
			ID: fmt.Sprintf("m%d", i), UserID: "u", Message: "hi", Timestamp: int64(i),
		}))
	}

	msgs, err := s.RecentChats(ctx, "room-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "m5", msgs[2].ID)
}

func TestChat_LimitReturnsTail(t *testing.T) {
	s, _ := newTestService(t, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PushChat(ctx, "room-1", types.ChatInfo{
			ID: fmt.Sprintf("m%d", i), UserID: "u", Message: "hi",
		}))
	}

	msgs, err := s.RecentChats(ctx, "room-1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "m4", msgs[1].ID)
}

func TestNilService_DegradesGracefully(t *testing.T) {
	var s *Service
	ctx := context.Background()

	assert.NoError(t, s.PutPresence(ctx, "r", types.PresenceInfo{UserID: "u"}))
	entries, err := s.GetPresence(ctx, "r")
	assert.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, s.PushOp(ctx, "f", ot.Operation{}))
	ops, err := s.ListOps(ctx, "f")
	assert.NoError(t, err)
	assert.Empty(t, ops)

	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
	assert.Nil(t, s.Client())
}

func TestPing(t *testing.T) {
	s, mr := newTestService(t, Options{})
	ctx := context.Background()

	assert.NoError(t, s.Ping(ctx))

	mr.Close()
	assert.Error(t, s.Ping(ctx))
}
