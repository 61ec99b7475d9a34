package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/logging"
	"github.com/devansh6012/code-collab/internal/v1/metrics"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
}

// Client represents a single user's connection to the collaboration service.
// It implements types.ClientInterface. A client joins at most one room at a
// time; room is nil between connect and the first join-room frame.
type Client struct {
	conn        wsConnection
	hub         *Hub
	ID          types.ClientIDType    // Unique identifier from JWT token
	DisplayName types.DisplayNameType // Human-readable name for UI display
	sessionID   string                // Distinguishes reconnects of the same user

	idleTimeout time.Duration

	mu     sync.RWMutex // Protects room and closed
	room   types.Roomer
	closed bool

	closeOnce sync.Once

	send         chan []byte // Buffered channel for droppable messages (cursors, chat)
	prioritySend chan []byte // Buffered channel for critical messages (edits, state)
}

// --- types.ClientInterface setters and getters ---

func (c *Client) GetID() types.ClientIDType {
	return c.ID
}

func (c *Client) GetDisplayName() types.DisplayNameType {
	return c.DisplayName
}

func (c *Client) GetSessionID() string {
	return c.sessionID
}

func (c *Client) currentRoom() types.Roomer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(r types.Roomer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

// Disconnect closes the outbound channels, which drives the writePump to
// send a close frame and tear down the connection. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.send)
		close(c.prioritySend)
	})
}

// readPump continuously processes incoming WebSocket frames from the client.
func (c *Client) readPump() {
	defer func() {
		if r := c.currentRoom(); r != nil {
			r.HandleClientDisconnect(c)
		}
		c.Disconnect()
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		// Idle connections are reaped: any frame (including pings handled
		// by gorilla internally) pushes the deadline forward.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// A peer speaking the wrong protocol gets a close frame rather
			// than a retry loop.
			logging.Warn(context.Background(), "Malformed frame, closing connection",
				zap.String("clientId", string(c.ID)), zap.Error(err))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseProtocolError, "malformed frame"))
			break
		}

		ctx := context.WithValue(context.Background(), logging.UserIDKey, string(c.ID))
		c.route(ctx, &msg)
	}
}

// route resolves the join/leave lifecycle locally and hands everything else
// to the room the client is in.
func (c *Client) route(ctx context.Context, msg *types.Message) {
	switch msg.Event {
	case types.EventJoinRoom:
		var p types.JoinRoomPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.RoomID == "" {
			c.sendError("malformed join-room payload")
			return
		}
		if c.currentRoom() != nil {
			c.sendError("already in a room")
			return
		}
		r, err := c.hub.JoinRoom(ctx, c, p.RoomID)
		if err != nil {
			c.sendError("join failed: not a member of this room")
			c.Disconnect()
			return
		}
		c.setRoom(r)

	case types.EventLeaveRoom:
		r := c.currentRoom()
		if r == nil {
			c.sendError("not in a room")
			return
		}
		c.setRoom(nil)
		r.HandleClientDisconnect(c)

	default:
		r := c.currentRoom()
		if r == nil {
			c.sendError("invalid state: join a room first")
			return
		}
		r.Router(ctx, c, msg)
	}
}

// writePump drains both outbound queues, always preferring the priority
// queue so state-bearing frames cannot starve behind cursor chatter.
func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	write := func(message []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return false
		}
		return true
	}

	for {
		// Drain priority first.
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !write(message) {
				return
			}
			continue
		default:
		}

		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !write(message) {
				return
			}
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !write(message) {
				return
			}
		}
	}
}

// SendRaw queues a droppable frame. A full queue drops the frame: cursor
// and chat updates are superseded by the next one.
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in SendRaw", zap.String("clientId", string(c.ID)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full, dropping frame", zap.String("clientId", string(c.ID)))
	}
}

// SendPriority queues a critical frame. A full priority queue means the peer
// cannot keep up with state changes; the only safe recovery is disconnecting
// it so it rejoins with a fresh snapshot instead of silently diverging.
func (c *Client) SendPriority(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in SendPriority", zap.String("clientId", string(c.ID)), zap.Any("panic", r))
		}
	}()

	select {
	case c.prioritySend <- data:
	default:
		logging.Error(context.Background(), "Client priority channel full, disconnecting slow consumer",
			zap.String("clientId", string(c.ID)))
		c.Disconnect()
	}
}

// sendError delivers an error frame on the priority queue.
func (c *Client) sendError(msg string) {
	payload, err := json.Marshal(types.ErrorPayload{Error: msg})
	if err != nil {
		return
	}
	frame, err := json.Marshal(types.Message{Event: types.EventError, Data: payload})
	if err != nil {
		return
	}
	c.SendPriority(frame)
}
