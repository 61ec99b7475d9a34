package room

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/devansh6012/code-collab/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T, members ...string) (*Room, *MockDocumentStore, *MockEphemeralStore) {
	t.Helper()
	docs := NewMockDocumentStore()
	cache := NewMockEphemeralStore()
	r := NewRoom(context.Background(), "room-1", docs, cache, nil)
	for _, m := range members {
		docs.addMember("room-1", types.ClientIDType(m))
	}
	return r, docs, cache
}

func join(t *testing.T, r *Room, id, name string) *MockClient {
	t.Helper()
	c := NewMockClient(id, name)
	require.NoError(t, r.HandleClientConnect(context.Background(), c))
	return c
}

func TestHandleClientConnect_NonMemberRejected(t *testing.T) {
	r, _, _ := newTestRoom(t, "alice")

	outsider := NewMockClient("mallory", "Mallory")
	err := r.HandleClientConnect(context.Background(), outsider)

	assert.ErrorIs(t, err, types.ErrForbidden)
	assert.False(t, r.IsParticipant("mallory"))
}

func TestHandleClientConnect_SendsSnapshots(t *testing.T) {
	r, docs, _ := newTestRoom(t, "alice")
	docs.addFile(&types.File{ID: "f1", RoomID: "room-1", Name: "main.go"})

	alice := join(t, r, "alice", "Alice")

	users := alice.received(types.EventRoomUsers)
	require.Len(t, users, 1)
	var roster types.RoomUsersPayload
	require.NoError(t, json.Unmarshal(users[0].Data, &roster))
	require.Len(t, roster.Users, 1)
	assert.Equal(t, types.ClientIDType("alice"), roster.Users[0].UserID)
	assert.NotEmpty(t, roster.Users[0].Color)

	files := alice.received(types.EventRoomFiles)
	require.Len(t, files, 1)
	var fl types.RoomFilesPayload
	require.NoError(t, json.Unmarshal(files[0].Data, &fl))
	require.Len(t, fl.Files, 1)
	assert.Equal(t, types.FileIDType("f1"), fl.Files[0].ID)
}

func TestHandleClientConnect_BroadcastsUserJoined(t *testing.T) {
	r, _, _ := newTestRoom(t, "alice", "bob")

	alice := join(t, r, "alice", "Alice")
	_ = join(t, r, "bob", "Bob")

	joined := alice.received(types.EventUserJoined)
	require.Len(t, joined, 1)
	var p types.UserEventPayload
	require.NoError(t, json.Unmarshal(joined[0].Data, &p))
	assert.Equal(t, types.ClientIDType("bob"), p.UserID)
	assert.NotEmpty(t, p.Color)
}

func TestHandleClientConnect_DuplicateEvictsOldSession(t *testing.T) {
	r, _, cache := newTestRoom(t, "alice")

	first := join(t, r, "alice", "Alice")
	second := join(t, r, "alice", "Alice")

	assert.True(t, first.Disconnected(), "old session should be evicted")
	assert.False(t, second.Disconnected())

	// Presence stays unique per user.
	entries, err := cache.GetPresence(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second.SessionID, entries[0].SessionID)
}

func TestHandleClientDisconnect_BroadcastsUserLeft(t *testing.T) {
	r, _, cache := newTestRoom(t, "alice", "bob")

	alice := join(t, r, "alice", "Alice")
	bob := join(t, r, "bob", "Bob")

	r.HandleClientDisconnect(bob)

	left := alice.received(types.EventUserLeft)
	require.Len(t, left, 1)
	assert.False(t, r.IsParticipant("bob"))

	entries, err := cache.GetPresence(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestHandleClientDisconnect_StaleSessionIgnored(t *testing.T) {
	r, _, _ := newTestRoom(t, "alice")

	old := join(t, r, "alice", "Alice")
	_ = join(t, r, "alice", "Alice") // evicts old

	// The evicted session's disconnect arrives late; the live session
	// must not be removed.
	r.HandleClientDisconnect(old)
	assert.True(t, r.IsParticipant("alice"))
}

func TestHandleClientDisconnect_EmptyRoomTriggersCallback(t *testing.T) {
	docs := NewMockDocumentStore()
	docs.addMember("room-1", "alice")

	emptied := make(chan types.RoomIDType, 1)
	r := NewRoom(context.Background(), "room-1", docs, NewMockEphemeralStore(), func(id types.RoomIDType) {
		emptied <- id
	})

	alice := join(t, r, "alice", "Alice")
	r.HandleClientDisconnect(alice)

	assert.Equal(t, types.RoomIDType("room-1"), <-emptied)
}

func TestShutdown_DisconnectsClients(t *testing.T) {
	r, _, _ := newTestRoom(t, "alice")
	alice := join(t, r, "alice", "Alice")

	require.NoError(t, r.Shutdown(context.Background()))
	assert.True(t, alice.Disconnected())
}
