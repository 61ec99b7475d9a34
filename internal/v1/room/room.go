package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/logging"
	"github.com/devansh6012/code-collab/internal/v1/metrics"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"go.uber.org/zap"
)

const (
	// MaxParticipants is the maximum allowed users in a room
	MaxParticipants = 100

	// versionCoalesceWindow batches snapshot writes: edits from the same
	// burst share one history entry instead of one per keystroke.
	versionCoalesceWindow = time.Second
)

// Room owns all live state for one collaborative session. Every frame from
// every participant funnels through its mutex, which is what makes the
// transform-then-apply sequence atomic per room.
type Room struct {
	ID types.RoomIDType
	mu sync.RWMutex

	clients map[types.ClientIDType]types.ClientInterface
	colors  *colorAllocator

	docs  types.DocumentStore
	cache types.EphemeralStore

	// presence mirrors the cache so a Redis outage never blanks the roster
	presence map[types.ClientIDType]*types.PresenceInfo

	// lastVersionAt tracks the most recent snapshot per file for coalescing
	lastVersionAt map[types.FileIDType]time.Time

	onEmpty func(types.RoomIDType)

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRoom creates a new Room instance with the given ID and dependencies.
func NewRoom(ctx context.Context, id types.RoomIDType, docs types.DocumentStore, cache types.EphemeralStore, onEmptyCallback func(types.RoomIDType)) *Room {
	room := &Room{
		ID:            id,
		clients:       make(map[types.ClientIDType]types.ClientInterface),
		colors:        newColorAllocator(),
		docs:          docs,
		cache:         cache,
		presence:      make(map[types.ClientIDType]*types.PresenceInfo),
		lastVersionAt: make(map[types.FileIDType]time.Time),
		onEmpty:       onEmptyCallback,
	}
	room.ctx, room.cancel = context.WithCancel(ctx)
	return room
}

// GetID returns the room ID.
func (r *Room) GetID() types.RoomIDType {
	return r.ID
}

// IsParticipant checks if the given user ID is connected to the room.
func (r *Room) IsParticipant(id types.ClientIDType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.clients[id]
	return exists
}

// IsRoomEmpty checks if the room has no connected clients.
func (r *Room) IsRoomEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) == 0
}

// Shutdown gracefully closes the room and disconnects all clients.
func (r *Room) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	var targets []types.ClientInterface
	for _, c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.Disconnect()
	}

	r.cancel()

	c := make(chan struct{})
	go func() {
		defer close(c)
		r.wg.Wait()
	}()

	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleClientConnect admits a client into the room: membership gate, color
// assignment, presence registration, state snapshots, and join broadcast.
// A non-nil error means the transport must close the connection.
func (r *Room) HandleClientConnect(ctx context.Context, client types.ClientInterface) error {
	member, err := r.docs.RoomMember(ctx, r.ID, client.GetID())
	if err != nil {
		logging.Error(ctx, "Membership check failed", zap.String("room", string(r.ID)), zap.Error(err))
		return err
	}
	if !member {
		logging.Warn(ctx, "Rejected non-member join attempt",
			zap.String("room", string(r.ID)),
			zap.String("clientId", string(client.GetID())))
		return types.ErrForbidden
	}

	// Snapshot reads happen outside the lock; nothing here mutates.
	files, err := r.docs.ListFiles(ctx, r.ID)
	if err != nil {
		logging.Error(ctx, "Failed to list room files", zap.String("room", string(r.ID)), zap.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.clients) >= MaxParticipants {
		return types.ErrForbidden
	}

	if existing, exists := r.clients[client.GetID()]; exists {
		logging.Info(ctx, "Duplicate connection detected, removing old client",
			zap.String("room", string(r.ID)),
			zap.String("clientId", string(client.GetID())),
			zap.String("oldSessionId", existing.GetSessionID()))
		existing.Disconnect()
		delete(r.clients, client.GetID())
	}

	r.clients[client.GetID()] = client

	color := r.colors.assign(client.GetID())
	p := &types.PresenceInfo{
		UserID:    client.GetID(),
		Username:  client.GetDisplayName(),
		Color:     color,
		SessionID: client.GetSessionID(),
	}
	r.presence[client.GetID()] = p

	if err := r.cache.PutPresence(ctx, r.ID, *p); err != nil {
		logging.Warn(ctx, "Failed to write presence entry", zap.Error(err))
	}

	metrics.RoomParticipants.WithLabelValues(string(r.ID)).Set(float64(len(r.clients)))

	// The joiner gets the authoritative roster and file list on the
	// priority queue so it can render before any incremental update lands.
	r.sendToClientLocked(client, types.EventRoomUsers, types.RoomUsersPayload{Users: r.rosterLocked()})
	r.sendToClientLocked(client, types.EventRoomFiles, types.RoomFilesPayload{Files: files})

	r.broadcastExceptLocked(client, types.EventUserJoined, types.UserEventPayload{
		UserID:   client.GetID(),
		Username: client.GetDisplayName(),
		Color:    color,
	})

	logging.Info(ctx, "Client joined room",
		zap.String("room", string(r.ID)),
		zap.String("clientId", string(client.GetID())),
		zap.String("color", color))
	return nil
}

// HandleClientDisconnect handles logic when a client disconnects.
func (r *Room) HandleClientDisconnect(client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := context.Background()

	existing, exists := r.clients[client.GetID()]
	if !exists || existing.GetSessionID() != client.GetSessionID() {
		// A reconnect already replaced this session; the newer entry owns
		// the presence record now.
		return
	}

	delete(r.clients, client.GetID())
	delete(r.presence, client.GetID())
	r.colors.release(client.GetID())

	if err := r.cache.DropPresence(ctx, r.ID, client.GetID()); err != nil {
		logging.Warn(ctx, "Failed to drop presence entry", zap.Error(err))
	}

	logging.Info(ctx, "Client disconnected",
		zap.String("room", string(r.ID)),
		zap.String("clientId", string(client.GetID())))

	if len(r.clients) > 0 {
		metrics.RoomParticipants.WithLabelValues(string(r.ID)).Set(float64(len(r.clients)))
	} else {
		metrics.RoomParticipants.DeleteLabelValues(string(r.ID))
	}

	r.broadcastLocked(types.EventUserLeft, types.UserEventPayload{
		UserID:   client.GetID(),
		Username: client.GetDisplayName(),
	})

	if len(r.clients) == 0 && r.onEmpty != nil {
		go r.onEmpty(r.ID)
	}
}

// --- Helper Functions ---

// rosterLocked builds the presence list. Caller must hold r.mu.
func (r *Room) rosterLocked() []types.PresenceInfo {
	roster := make([]types.PresenceInfo, 0, len(r.presence))
	for _, p := range r.presence {
		roster = append(roster, *p)
	}
	return roster
}

// encodeMessage wraps a payload into a wire frame and marshals it once so a
// broadcast serializes a single time regardless of fan-out.
func encodeMessage(event types.Event, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.Message{Event: event, Data: data})
}

// deliver routes a frame to the queue matching its criticality.
func deliver(client types.ClientInterface, event types.Event, data []byte) {
	if event.Critical() {
		client.SendPriority(data)
	} else {
		client.SendRaw(data)
	}
}

func (r *Room) sendToClientLocked(client types.ClientInterface, event types.Event, payload any) {
	data, err := encodeMessage(event, payload)
	if err != nil {
		logging.Error(r.ctx, "Failed to marshal message", zap.String("event", string(event)), zap.Error(err))
		return
	}
	deliver(client, event, data)
}

// broadcastRawLocked sends pre-marshaled bytes to all connected clients.
func (r *Room) broadcastRawLocked(event types.Event, data []byte) {
	for _, client := range r.clients {
		deliver(client, event, data)
	}
}

// broadcastLocked marshals once and fans out to every client in the room.
func (r *Room) broadcastLocked(event types.Event, payload any) {
	data, err := encodeMessage(event, payload)
	if err != nil {
		logging.Error(r.ctx, "Failed to marshal broadcast message", zap.String("room", string(r.ID)), zap.Error(err))
		return
	}
	r.broadcastRawLocked(event, data)
}

// broadcastExceptLocked fans out to everyone except the originating session.
func (r *Room) broadcastExceptLocked(sender types.ClientInterface, event types.Event, payload any) {
	data, err := encodeMessage(event, payload)
	if err != nil {
		logging.Error(r.ctx, "Failed to marshal broadcast message", zap.String("room", string(r.ID)), zap.Error(err))
		return
	}
	for _, client := range r.clients {
		if client.GetSessionID() == sender.GetSessionID() {
			continue
		}
		deliver(client, event, data)
	}
}

// sendError delivers an error frame to a single client on the priority queue.
func (r *Room) sendError(client types.ClientInterface, msg string) {
	data, err := encodeMessage(types.EventError, types.ErrorPayload{Error: msg})
	if err != nil {
		return
	}
	client.SendPriority(data)
}
