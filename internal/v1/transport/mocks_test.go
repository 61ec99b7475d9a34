package transport

import (
	"context"
	"sync"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/auth"
	"github.com/devansh6012/code-collab/internal/v1/ot"
	"github.com/devansh6012/code-collab/internal/v1/types"
)

// MockTokenValidator implements types.TokenValidator.
type MockTokenValidator struct {
	ValidateTokenFunc func(tokenString string) (*auth.CustomClaims, error)
}

func (m *MockTokenValidator) ValidateToken(tokenString string) (*auth.CustomClaims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(tokenString)
	}
	claims := &auth.CustomClaims{Name: "Test User"}
	claims.Subject = "test-user"
	return claims, nil
}

// MockConnection implements wsConnection
type MockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error

	mu      sync.Mutex
	written [][]byte
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	m.written = append(m.written, data)
	m.mu.Unlock()
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error { return nil }
func (m *MockConnection) SetReadDeadline(_ time.Time) error  { return nil }

// MockDocumentStore implements types.DocumentStore, admitting everyone.
type MockDocumentStore struct {
	mu        sync.Mutex
	members   map[string]bool
	denyAll   bool
	listCalls int
}

func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{members: make(map[string]bool)}
}

func (m *MockDocumentStore) LoadFile(ctx context.Context, fileID types.FileIDType) (*types.File, error) {
	return nil, types.ErrNotFound
}

func (m *MockDocumentStore) SaveContent(ctx context.Context, fileID types.FileIDType, content string) error {
	return nil
}

func (m *MockDocumentStore) AppendVersion(ctx context.Context, fileID types.FileIDType, priorContent string, userID types.ClientIDType) error {
	return nil
}

func (m *MockDocumentStore) ListFiles(ctx context.Context, roomID types.RoomIDType) ([]types.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return []types.File{}, nil
}

func (m *MockDocumentStore) ListVersions(ctx context.Context, fileID types.FileIDType) ([]types.FileVersion, error) {
	return []types.FileVersion{}, nil
}

func (m *MockDocumentStore) CreateFile(ctx context.Context, roomID types.RoomIDType, name, language string) (*types.File, error) {
	return &types.File{Name: name}, nil
}

func (m *MockDocumentStore) DeleteFile(ctx context.Context, fileID types.FileIDType) error {
	return nil
}

func (m *MockDocumentStore) RoomMember(ctx context.Context, roomID types.RoomIDType, userID types.ClientIDType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.denyAll, nil
}

func (m *MockDocumentStore) Ping(ctx context.Context) error { return nil }

// MockEphemeralStore implements types.EphemeralStore as no-ops.
type MockEphemeralStore struct{}

func (m *MockEphemeralStore) PutPresence(ctx context.Context, roomID types.RoomIDType, p types.PresenceInfo) error {
	return nil
}

func (m *MockEphemeralStore) GetPresence(ctx context.Context, roomID types.RoomIDType) ([]types.PresenceInfo, error) {
	return nil, nil
}

func (m *MockEphemeralStore) DropPresence(ctx context.Context, roomID types.RoomIDType, userID types.ClientIDType) error {
	return nil
}

func (m *MockEphemeralStore) PushOp(ctx context.Context, fileID types.FileIDType, op ot.Operation) error {
	return nil
}

func (m *MockEphemeralStore) ListOps(ctx context.Context, fileID types.FileIDType) ([]ot.Operation, error) {
	return nil, nil
}

func (m *MockEphemeralStore) DropOps(ctx context.Context, fileID types.FileIDType) error {
	return nil
}

func (m *MockEphemeralStore) PushChat(ctx context.Context, roomID types.RoomIDType, msg types.ChatInfo) error {
	return nil
}

func (m *MockEphemeralStore) RecentChats(ctx context.Context, roomID types.RoomIDType, limit int) ([]types.ChatInfo, error) {
	return nil, nil
}

func (m *MockEphemeralStore) Ping(ctx context.Context) error { return nil }
func (m *MockEphemeralStore) Close() error                   { return nil }

// MockRoomer implements types.Roomer, recording calls.
type MockRoomer struct {
	ID types.RoomIDType

	mu              sync.Mutex
	routed          []*types.Message
	connectCalls    int
	disconnectCalls int
	connectErr      error
}

func (m *MockRoomer) GetID() types.RoomIDType { return m.ID }

func (m *MockRoomer) Router(ctx context.Context, client types.ClientInterface, msg *types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routed = append(m.routed, msg)
}

func (m *MockRoomer) HandleClientConnect(ctx context.Context, client types.ClientInterface) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	return m.connectErr
}

func (m *MockRoomer) HandleClientDisconnect(client types.ClientInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
}
