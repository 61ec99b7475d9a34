package types

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/auth"
	"github.com/devansh6012/code-collab/internal/v1/ot"
)

// --- Core Domain Types ---

// RoomIDType represents a unique identifier for a collaborative room.
type RoomIDType string

// ClientIDType represents a unique identifier for a user (JWT subject).
type ClientIDType string

// FileIDType represents a unique identifier for a file within a room.
type FileIDType string

// DisplayNameType represents the human-readable name for a client.
type DisplayNameType string

// --- Sentinel Errors ---

var (
	// ErrNotFound is returned when a room, file, or version does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write lost a compare-and-set race.
	ErrConflict = errors.New("conflict")
	// ErrForbidden is returned when a user is not a member of a room.
	ErrForbidden = errors.New("forbidden")
)

// --- Wire Protocol ---

// Event names a frame type on the client channel.
type Event string

// Inbound events (client → server).
const (
	EventJoinRoom       Event = "join-room"
	EventLeaveRoom      Event = "leave-room"
	EventCodeChange     Event = "code-change"
	EventCursorPosition Event = "cursor-position"
	EventChatMessage    Event = "chat-message"
	EventGetChatHistory Event = "get-chat-history"
	EventGetVersions    Event = "get-version-history"
	EventCreateFile     Event = "create-file"
	EventDeleteFile     Event = "delete-file"
)

// Outbound events (server → client). EventChatMessage is used in both
// directions; the server copy carries the authoritative id and timestamp.
const (
	EventRoomUsers    Event = "room-users"
	EventRoomFiles    Event = "room-files"
	EventUserJoined   Event = "user-joined"
	EventUserLeft     Event = "user-left"
	EventCodeUpdate   Event = "code-update"
	EventCursorUpdate Event = "cursor-update"
	EventChatHistory  Event = "chat-history"
	EventVersions     Event = "version-history"
	EventFileCreated  Event = "file-created"
	EventFileDeleted  Event = "file-deleted"
	EventError        Event = "error"
)

// Message is one JSON frame on the WebSocket channel.
type Message struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Critical reports whether dropping the event would leave a peer with stale
// document state. Critical frames ride the priority queue; overflow there
// disconnects the peer so it refetches canonical content on reconnect.
func (e Event) Critical() bool {
	switch e {
	case EventRoomUsers, EventRoomFiles, EventCodeUpdate,
		EventFileCreated, EventFileDeleted, EventError:
		return true
	}
	return false
}

// --- Inbound Payloads ---

type JoinRoomPayload struct {
	RoomID RoomIDType `json:"room_id"`
}

type CodeChangePayload struct {
	FileID FileIDType   `json:"file_id"`
	Op     ot.Operation `json:"op"`
}

type CursorPositionPayload struct {
	FileID FileIDType `json:"file_id"`
	Line   int        `json:"line"`
	Column int        `json:"column"`
}

type ChatMessagePayload struct {
	Message     string `json:"message"`
	CodeSnippet string `json:"code_snippet,omitempty"`
}

type CreateFilePayload struct {
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

type DeleteFilePayload struct {
	FileID FileIDType `json:"file_id"`
}

type GetVersionsPayload struct {
	FileID FileIDType `json:"file_id"`
}

// --- Outbound Payloads ---

type CodeUpdatePayload struct {
	FileID FileIDType   `json:"file_id"`
	Op     ot.Operation `json:"op"`
	UserID ClientIDType `json:"user_id"`
}

type CursorUpdatePayload struct {
	FileID   FileIDType      `json:"file_id"`
	UserID   ClientIDType    `json:"user_id"`
	Username DisplayNameType `json:"username"`
	Color    string          `json:"color"`
	Line     int             `json:"line"`
	Column   int             `json:"column"`
}

type UserEventPayload struct {
	UserID   ClientIDType    `json:"user_id"`
	Username DisplayNameType `json:"username"`
	Color    string          `json:"color,omitempty"`
}

type RoomUsersPayload struct {
	Users []PresenceInfo `json:"users"`
}

type RoomFilesPayload struct {
	Files []File `json:"files"`
}

type ChatHistoryPayload struct {
	Messages []ChatInfo `json:"messages"`
}

type VersionsPayload struct {
	FileID   FileIDType    `json:"file_id"`
	Versions []FileVersion `json:"versions"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// --- Stored Records ---

// CursorInfo is a participant's last reported cursor position.
type CursorInfo struct {
	FileID FileIDType `json:"file_id"`
	Line   int        `json:"line"`
	Column int        `json:"column"`
}

// PresenceInfo is the ephemeral record that a user is connected to a room.
// At most one entry exists per (room, user); a reconnect evicts the prior
// session id.
type PresenceInfo struct {
	UserID    ClientIDType    `json:"user_id"`
	Username  DisplayNameType `json:"username"`
	Color     string          `json:"color"`
	Cursor    *CursorInfo     `json:"cursor,omitempty"`
	SessionID string          `json:"session_id"`
}

// ChatInfo is a chat message as stored in the per-room ring and fanned out
// to clients.
type ChatInfo struct {
	ID          string          `json:"id"`
	UserID      ClientIDType    `json:"user_id"`
	Username    DisplayNameType `json:"username"`
	Message     string          `json:"message"`
	CodeSnippet string          `json:"code_snippet,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// Validate ensures chat messages are safe to store.
func (c ChatInfo) Validate() error {
	if len(c.Message) == 0 && len(c.CodeSnippet) == 0 {
		return errors.New("chat message cannot be empty")
	}
	if len(c.Message) > 1000 {
		return errors.New("chat message cannot exceed 1000 characters")
	}
	if c.UserID == "" {
		return errors.New("chat user id cannot be empty")
	}
	return nil
}

// File is a document within a room. Content is the canonical state; every
// edit funnels through the single hub owning the room.
type File struct {
	ID        FileIDType `json:"id"`
	RoomID    RoomIDType `json:"room_id"`
	Name      string     `json:"name"`
	Content   string     `json:"content"`
	Language  string     `json:"language,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FileVersion is an append-only snapshot of a file's content before a save.
type FileVersion struct {
	ID        string       `json:"id"`
	FileID    FileIDType   `json:"file_id"`
	Content   string       `json:"content"`
	UserID    ClientIDType `json:"user_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// Room carries room metadata from the durable store.
type Room struct {
	ID         RoomIDType   `json:"id"`
	Name       string       `json:"name"`
	OwnerID    ClientIDType `json:"owner_id"`
	InviteCode string       `json:"invite_code"`
	CreatedAt  time.Time    `json:"created_at"`
}

// --- Shared Interfaces ---

// TokenValidator defines the interface for JWT token authentication services.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// DocumentStore is the narrow durable-store contract the room hub consumes.
// Implementations map ErrNotFound/ErrConflict; anything else is transient
// and retried by the WithRetry decorator.
type DocumentStore interface {
	LoadFile(ctx context.Context, fileID FileIDType) (*File, error)
	SaveContent(ctx context.Context, fileID FileIDType, content string) error
	AppendVersion(ctx context.Context, fileID FileIDType, priorContent string, userID ClientIDType) error
	ListFiles(ctx context.Context, roomID RoomIDType) ([]File, error)
	ListVersions(ctx context.Context, fileID FileIDType) ([]FileVersion, error)
	CreateFile(ctx context.Context, roomID RoomIDType, name, language string) (*File, error)
	DeleteFile(ctx context.Context, fileID FileIDType) error
	RoomMember(ctx context.Context, roomID RoomIDType, userID ClientIDType) (bool, error)
	Ping(ctx context.Context) error
}

// EphemeralStore is the expiring key-value contract backing presence, the
// per-file operation log, and the chat ring. Missing entries are permissible
// data loss: a lost op window skips transformation, never corrupts content.
type EphemeralStore interface {
	PutPresence(ctx context.Context, roomID RoomIDType, p PresenceInfo) error
	GetPresence(ctx context.Context, roomID RoomIDType) ([]PresenceInfo, error)
	DropPresence(ctx context.Context, roomID RoomIDType, userID ClientIDType) error

	PushOp(ctx context.Context, fileID FileIDType, op ot.Operation) error
	ListOps(ctx context.Context, fileID FileIDType) ([]ot.Operation, error)
	DropOps(ctx context.Context, fileID FileIDType) error

	PushChat(ctx context.Context, roomID RoomIDType, msg ChatInfo) error
	RecentChats(ctx context.Context, roomID RoomIDType, limit int) ([]ChatInfo, error)

	Ping(ctx context.Context) error
	Close() error
}

// ClientInterface defines the behavior the room hub requires from a
// connected session, decoupling room logic from the transport package.
type ClientInterface interface {
	GetID() ClientIDType
	GetDisplayName() DisplayNameType
	GetSessionID() string
	SendRaw(data []byte)         // droppable queue (cursors, chat)
	SendPriority(data []byte)    // critical queue; overflow disconnects
	Disconnect()                 // forcefully close the connection
}

// Roomer defines the room operations a transport client needs.
type Roomer interface {
	GetID() RoomIDType
	Router(ctx context.Context, client ClientInterface, msg *Message)
	HandleClientConnect(ctx context.Context, client ClientInterface) error
	HandleClientDisconnect(client ClientInterface)
}
