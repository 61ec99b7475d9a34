package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/ot"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// MockClient implements types.ClientInterface for testing
type MockClient struct {
	ID          types.ClientIDType
	DisplayName types.DisplayNameType
	SessionID   string

	mu             sync.Mutex
	SentRaw        [][]byte
	SentPriority   [][]byte
	isDisconnected bool
}

func NewMockClient(id, name string) *MockClient {
	return &MockClient{
		ID:          types.ClientIDType(id),
		DisplayName: types.DisplayNameType(name),
		SessionID:   uuid.New().String(),
	}
}

func (m *MockClient) GetID() types.ClientIDType             { return m.ID }
func (m *MockClient) GetDisplayName() types.DisplayNameType { return m.DisplayName }
func (m *MockClient) GetSessionID() string                  { return m.SessionID }

func (m *MockClient) SendRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentRaw = append(m.SentRaw, data)
}

func (m *MockClient) SendPriority(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentPriority = append(m.SentPriority, data)
}

func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isDisconnected = true
}

func (m *MockClient) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isDisconnected
}

// messages decodes every frame the client received, both queues, in order
// received per queue (priority first).
func (m *MockClient) messages() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Message
	for _, raw := range append(append([][]byte{}, m.SentPriority...), m.SentRaw...) {
		var msg types.Message
		if json.Unmarshal(raw, &msg) == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockClient) received(event types.Event) []types.Message {
	var out []types.Message
	for _, msg := range m.messages() {
		if msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

// MockDocumentStore is an in-memory types.DocumentStore for testing
type MockDocumentStore struct {
	mu       sync.Mutex
	files    map[types.FileIDType]*types.File
	versions map[types.FileIDType][]types.FileVersion
	members  map[string]bool // "roomID/userID"

	failLoad bool
	failSave bool
}

func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		files:    make(map[types.FileIDType]*types.File),
		versions: make(map[types.FileIDType][]types.FileVersion),
		members:  make(map[string]bool),
	}
}

func (m *MockDocumentStore) addMember(roomID types.RoomIDType, userID types.ClientIDType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[string(roomID)+"/"+string(userID)] = true
}

func (m *MockDocumentStore) addFile(f *types.File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
}

func (m *MockDocumentStore) LoadFile(ctx context.Context, fileID types.FileIDType) (*types.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad {
		return nil, assert.AnError
	}
	f, ok := m.files[fileID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MockDocumentStore) SaveContent(ctx context.Context, fileID types.FileIDType, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return assert.AnError
	}
	f, ok := m.files[fileID]
	if !ok {
		return types.ErrNotFound
	}
	f.Content = content
	f.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) AppendVersion(ctx context.Context, fileID types.FileIDType, priorContent string, userID types.ClientIDType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[fileID] = append(m.versions[fileID], types.FileVersion{
		ID:        uuid.New().String(),
		FileID:    fileID,
		Content:   priorContent,
		UserID:    userID,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MockDocumentStore) ListFiles(ctx context.Context, roomID types.RoomIDType) ([]types.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.File
	for _, f := range m.files {
		if f.RoomID == roomID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *MockDocumentStore) ListVersions(ctx context.Context, fileID types.FileIDType) ([]types.FileVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.FileVersion{}, m.versions[fileID]...), nil
}

func (m *MockDocumentStore) CreateFile(ctx context.Context, roomID types.RoomIDType, name, language string) (*types.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &types.File{
		ID:        types.FileIDType(uuid.New().String()),
		RoomID:    roomID,
		Name:      name,
		Language:  language,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.files[f.ID] = f
	return f, nil
}

func (m *MockDocumentStore) DeleteFile(ctx context.Context, fileID types.FileIDType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fileID]; !ok {
		return types.ErrNotFound
	}
	delete(m.files, fileID)
	delete(m.versions, fileID)
	return nil
}

func (m *MockDocumentStore) RoomMember(ctx context.Context, roomID types.RoomIDType, userID types.ClientIDType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[string(roomID)+"/"+string(userID)], nil
}

func (m *MockDocumentStore) Ping(ctx context.Context) error { return nil }

// MockEphemeralStore is an in-memory types.EphemeralStore for testing
type MockEphemeralStore struct {
	mu       sync.Mutex
	presence map[string]types.PresenceInfo // "roomID/userID"
	ops      map[types.FileIDType][]ot.Operation
	chats    map[types.RoomIDType][]types.ChatInfo

	failListOps bool
}

func NewMockEphemeralStore() *MockEphemeralStore {
	return &MockEphemeralStore{
		presence: make(map[string]types.PresenceInfo),
		ops:      make(map[types.FileIDType][]ot.Operation),
		chats:    make(map[types.RoomIDType][]types.ChatInfo),
	}
}

func (m *MockEphemeralStore) PutPresence(ctx context.Context, roomID types.RoomIDType, p types.PresenceInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence[string(roomID)+"/"+string(p.UserID)] = p
	return nil
}

func (m *MockEphemeralStore) GetPresence(ctx context.Context, roomID types.RoomIDType) ([]types.PresenceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.PresenceInfo
	for k, p := range m.presence {
		if len(k) > len(roomID) && k[:len(roomID)] == string(roomID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockEphemeralStore) DropPresence(ctx context.Context, roomID types.RoomIDType, userID types.ClientIDType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.presence, string(roomID)+"/"+string(userID))
	return nil
}

func (m *MockEphemeralStore) PushOp(ctx context.Context, fileID types.FileIDType, op ot.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[fileID] = append(m.ops[fileID], op)
	return nil
}

func (m *MockEphemeralStore) ListOps(ctx context.Context, fileID types.FileIDType) ([]ot.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListOps {
		return nil, assert.AnError
	}
	return append([]ot.Operation{}, m.ops[fileID]...), nil
}

func (m *MockEphemeralStore) DropOps(ctx context.Context, fileID types.FileIDType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, fileID)
	return nil
}

func (m *MockEphemeralStore) PushChat(ctx context.Context, roomID types.RoomIDType, msg types.ChatInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[roomID] = append(m.chats[roomID], msg)
	return nil
}

func (m *MockEphemeralStore) RecentChats(ctx context.Context, roomID types.RoomIDType, limit int) ([]types.ChatInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.chats[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]types.ChatInfo{}, msgs...), nil
}

func (m *MockEphemeralStore) Ping(ctx context.Context) error { return nil }
func (m *MockEphemeralStore) Close() error                   { return nil }
