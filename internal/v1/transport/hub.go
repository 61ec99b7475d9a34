package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/auth"
	"github.com/devansh6012/code-collab/internal/v1/logging"
	"github.com/devansh6012/code-collab/internal/v1/metrics"
	"github.com/devansh6012/code-collab/internal/v1/ratelimit"
	"github.com/devansh6012/code-collab/internal/v1/room"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"
)

// Hub serves as the central coordinator for all collaboration rooms in the
// system. Rooms are created on first join and torn down after a grace period
// once the last participant leaves, so a page refresh does not thrash room
// state.
type Hub struct {
	rooms               map[types.RoomIDType]*room.Room  // Registry of active rooms by room ID
	mu                  sync.Mutex                       // Protects concurrent access to rooms map
	validator           types.TokenValidator             // JWT authentication service
	pendingRoomCleanups map[types.RoomIDType]*time.Timer // Timers for delayed room cleanup
	docs                types.DocumentStore
	cache               types.EphemeralStore
	cleanupGracePeriod  time.Duration
	idleTimeout         time.Duration
	devMode             bool // Disable rate limiting in development mode
	rateLimiter         *ratelimit.RateLimiter
}

// HubOptions carries the tunables for NewHub.
type HubOptions struct {
	DevMode     bool
	IdleTimeout time.Duration
}

// NewHub creates a new Hub and configures it with its dependencies.
func NewHub(validator types.TokenValidator, docs types.DocumentStore, cache types.EphemeralStore, rateLimiter *ratelimit.RateLimiter, opts HubOptions) *Hub {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	return &Hub{
		rooms:               make(map[types.RoomIDType]*room.Room),
		validator:           validator,
		pendingRoomCleanups: make(map[types.RoomIDType]*time.Timer),
		docs:                docs,
		cache:               cache,
		cleanupGracePeriod:  5 * time.Second,
		idleTimeout:         opts.IdleTimeout,
		devMode:             opts.DevMode,
		rateLimiter:         rateLimiter,
	}
}

// ServeWs authenticates the user and upgrades to a WebSocket connection.
// Room selection happens afterwards via a join-room frame.
func (h *Hub) ServeWs(c *gin.Context) {
	// Rate limiting first, before any other work.
	if !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	tokenResult, err := h.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.authenticateUser(tokenResult.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if err := h.rateLimiter.CheckWebSocketUser(c.Request.Context(), claims.Subject); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
		return
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("FRONTEND_ORIGIN", []string{"http://localhost:3000"})
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgradeWebSocket(c, allowedOrigins, tokenResult)
	if err != nil {
		return
	}

	h.HandleConnection(conn, claims)
}

// HandleConnection takes an established WebSocket connection and starts the
// client pumps. The client is roomless until its first join-room frame.
func (h *Hub) HandleConnection(conn wsConnection, claims *auth.CustomClaims) {
	client := &Client{
		conn:         conn,
		hub:          h,
		ID:           types.ClientIDType(claims.Subject),
		DisplayName:  types.DisplayNameType(claims.Username()),
		sessionID:    uuid.New().String(),
		idleTimeout:  h.idleTimeout,
		send:         make(chan []byte, 256),
		prioritySend: make(chan []byte, 256),
	}

	metrics.IncConnection()

	logging.Info(context.Background(), "WebSocket connection established",
		zap.String("clientId", string(client.ID)),
		zap.String("sessionId", client.sessionID))

	go client.writePump()
	go client.readPump()
}

// JoinRoom resolves a join-room frame: finds or creates the room and admits
// the client. A membership rejection surfaces as an error to the caller.
func (h *Hub) JoinRoom(ctx context.Context, client types.ClientInterface, roomID types.RoomIDType) (types.Roomer, error) {
	r := h.getOrCreateRoom(roomID)

	ctx = context.WithValue(ctx, logging.RoomIDKey, string(roomID))
	if err := r.HandleClientConnect(ctx, client); err != nil {
		// A room created just for this failed join gets reaped by the
		// empty-room path.
		if r.IsRoomEmpty() {
			h.removeRoom(roomID)
		}
		return nil, err
	}
	return r, nil
}

// removeRoom schedules cleanup of an empty room after the grace period.
func (h *Hub) removeRoom(roomID types.RoomIDType) {
	h.mu.Lock()

	// Cancel any existing cleanup timer for this room
	if existingTimer, exists := h.pendingRoomCleanups[roomID]; exists {
		existingTimer.Stop()
		delete(h.pendingRoomCleanups, roomID)
	}

	timer := time.AfterFunc(h.cleanupGracePeriod, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		// Double-check the room still exists and is empty before deleting
		if r, ok := h.rooms[roomID]; ok && r.IsRoomEmpty() {
			delete(h.rooms, roomID)
			delete(h.pendingRoomCleanups, roomID)

			metrics.ActiveRooms.Dec()
			metrics.RoomParticipants.DeleteLabelValues(string(roomID))

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = r.Shutdown(ctx)

			logging.Info(context.Background(), "Removed room from hub after grace period", zap.String("roomId", string(roomID)))
		} else {
			// Room repopulated during the grace period, cancel cleanup
			delete(h.pendingRoomCleanups, roomID)
			if ok {
				logging.Info(context.Background(), "Cancelled room cleanup - room is active", zap.String("roomId", string(roomID)))
			}
		}
	})

	h.pendingRoomCleanups[roomID] = timer
	h.mu.Unlock()
}

// getOrCreateRoom retrieves the Room associated with the given id from the Hub.
func (h *Hub) getOrCreateRoom(roomID types.RoomIDType) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomID]; ok {
		// Room exists, cancel any pending cleanup
		if timer, hasPendingCleanup := h.pendingRoomCleanups[roomID]; hasPendingCleanup {
			timer.Stop()
			delete(h.pendingRoomCleanups, roomID)
			logging.Info(context.Background(), "Cancelled pending room cleanup due to rejoin", zap.String("roomId", string(roomID)))
		}
		return r
	}

	logging.Info(context.Background(), "Creating new collaboration room", zap.String("roomId", string(roomID)))
	r := room.NewRoom(context.Background(), roomID, h.docs, h.cache, h.removeRoom)
	h.rooms[roomID] = r

	metrics.ActiveRooms.Inc()
	return r
}

// Shutdown gracefully closes all active rooms and connections
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down Hub - closing all active rooms...")

	h.mu.Lock()
	// Cancel all pending cleanup timers
	for roomID, timer := range h.pendingRoomCleanups {
		timer.Stop()
		delete(h.pendingRoomCleanups, roomID)
	}

	rooms := make([]*room.Room, 0, len(h.rooms))
	for id, r := range h.rooms {
		rooms = append(rooms, r)
		delete(h.rooms, id)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		if err := r.Shutdown(ctx); err != nil {
			logging.Error(ctx, "Room shutdown timed out", zap.String("roomId", string(r.ID)), zap.Error(err))
		}
	}

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
	return nil
}
