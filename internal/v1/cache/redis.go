package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/metrics"
	"github.com/devansh6012/code-collab/internal/v1/ot"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Options tunes the expiring state kept in Redis. Zero values fall back to
// the defaults below.
type Options struct {
	PresenceTTL time.Duration // lifetime of a presence entry (default 1h)
	OpLogWindow int           // max retained ops per file (default 100)
	OpLogTTL    time.Duration // lifetime of a file's op log (default 5m)
	ChatRing    int           // max retained chat messages per room (default 100)
	ChatTTL     time.Duration // lifetime of a room's chat ring (default 24h)
}

func (o *Options) fillDefaults() {
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = time.Hour
	}
	if o.OpLogWindow <= 0 {
		o.OpLogWindow = 100
	}
	if o.OpLogTTL <= 0 {
		o.OpLogTTL = 5 * time.Minute
	}
	if o.ChatRing <= 0 {
		o.ChatRing = 100
	}
	if o.ChatTTL <= 0 {
		o.ChatTTL = 24 * time.Hour
	}
}

// Service handles all interaction with Redis: presence entries, per-file
// operation logs, and per-room chat rings. All of it is expiring state that
// the system can lose without corrupting documents, so every method degrades
// gracefully when Redis is disabled (nil Service) or the breaker is open.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	opts   Options
}

// Client returns the underlying Redis client, nil when Redis is disabled.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis connection guarded by a circuit breaker.
func NewService(addr, password string, opts Options) (*Service, error) {
	opts.fillDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		opts:   opts,
	}, nil
}

// NewServiceWithClient wires an existing client, used by tests with miniredis.
func NewServiceWithClient(client *redis.Client, opts Options) *Service {
	opts.fillDefaults()
	return &Service{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "redis"}),
		opts:   opts,
	}
}

// execute runs fn through the breaker. An open breaker degrades to a no-op:
// callers treat missing ephemeral state as empty, never as fatal.
func (s *Service) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	res, err := s.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: skipping operation", "op", op)
			return nil, nil // Graceful degradation
		}
		slog.Error("Redis operation failed", "op", op, "error", err)
		return nil, err
	}
	return res, nil
}

// --- Presence ---
//
// Key schema: "presence:{roomID}:{userID}" holding one JSON PresenceInfo.
// Per-user keys give each entry its own TTL; an instance crash leaves stale
// presence that expires on its own instead of lingering forever.

func presenceKey(roomID types.RoomIDType, userID types.ClientIDType) string {
	return fmt.Sprintf("presence:%s:%s", roomID, userID)
}

// PutPresence upserts the presence entry for a user. Writing the same user
// again replaces the prior entry, which is what enforces the one-session-per-
// user rule across reconnects.
func (s *Service) PutPresence(ctx context.Context, roomID types.RoomIDType, p types.PresenceInfo) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	_, err = s.execute("put_presence", func() (interface{}, error) {
		return nil, s.client.Set(ctx, presenceKey(roomID, p.UserID), data, s.opts.PresenceTTL).Err()
	})
	return err
}

// GetPresence returns every presence entry for a room.
func (s *Service) GetPresence(ctx context.Context, roomID types.RoomIDType) ([]types.PresenceInfo, error) {
	if s == nil || s.client == nil {
		return nil, nil // Single-instance mode, no Redis available
	}

	res, err := s.execute("get_presence", func() (interface{}, error) {
		pattern := fmt.Sprintf("presence:%s:*", roomID)
		var entries []types.PresenceInfo

		iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			raw, err := s.client.Get(ctx, iter.Val()).Bytes()
			if err != nil {
				if err == redis.Nil {
					continue // expired between SCAN and GET
				}
				return nil, err
			}
			var p types.PresenceInfo
			if err := json.Unmarshal(raw, &p); err != nil {
				slog.Error("Failed to unmarshal presence entry", "key", iter.Val(), "error", err)
				continue
			}
			entries = append(entries, p)
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return entries, nil
	})
	if err != nil || res == nil {
		return nil, err
	}
	return res.([]types.PresenceInfo), nil
}

// DropPresence removes the presence entry for a user.
func (s *Service) DropPresence(ctx context.Context, roomID types.RoomIDType, userID types.ClientIDType) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.execute("drop_presence", func() (interface{}, error) {
		return nil, s.client.Del(ctx, presenceKey(roomID, userID)).Err()
	})
	return err
}

// --- Operation log ---
//
// Key schema: "pending:{fileID}" holding a list of JSON operations, trimmed
// to the configured window. The log is the transformation context for edits
// racing against already-applied edits; losing it means a late edit applies
// untransformed, which is an accepted degradation.

func opsKey(fileID types.FileIDType) string {
	return fmt.Sprintf("pending:%s", fileID)
}

// PushOp appends an applied operation to the file's log and trims the log to
// the retention window.
func (s *Service) PushOp(ctx context.Context, fileID types.FileIDType, op ot.Operation) error {
	if s == nil || s.client == nil {
		return nil
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}

	_, err = s.execute("push_op", func() (interface{}, error) {
		key := opsKey(fileID)
		pipe := s.client.TxPipeline()
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-s.opts.OpLogWindow), -1)
		pipe.Expire(ctx, key, s.opts.OpLogTTL)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

// ListOps returns the retained operations for a file, oldest first.
func (s *Service) ListOps(ctx context.Context, fileID types.FileIDType) ([]ot.Operation, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	res, err := s.execute("list_ops", func() (interface{}, error) {
		raws, err := s.client.LRange(ctx, opsKey(fileID), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		ops := make([]ot.Operation, 0, len(raws))
		for _, raw := range raws {
			var op ot.Operation
			if err := json.Unmarshal([]byte(raw), &op); err != nil {
				slog.Error("Failed to unmarshal logged operation", "fileId", string(fileID), "error", err)
				continue
			}
			ops = append(ops, op)
		}
		return ops, nil
	})
	if err != nil || res == nil {
		return nil, err
	}
	return res.([]ot.Operation), nil
}

// DropOps deletes a file's operation log, used when the file is deleted.
func (s *Service) DropOps(ctx context.Context, fileID types.FileIDType) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.execute("drop_ops", func() (interface{}, error) {
		return nil, s.client.Del(ctx, opsKey(fileID)).Err()
	})
	return err
}

// --- Chat ring ---
//
// Key schema: "chat:{roomID}" holding a list of JSON chat messages trimmed
// to the ring size. History survives everyone leaving the room until the TTL
// runs out.

func chatKey(roomID types.RoomIDType) string {
	return fmt.Sprintf("chat:%s", roomID)
}

// PushChat appends a chat message to the room's ring.
func (s *Service) PushChat(ctx context.Context, roomID types.RoomIDType, msg types.ChatInfo) error {
	if s == nil || s.client == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	_, err = s.execute("push_chat", func() (interface{}, error) {
		key := chatKey(roomID)
		pipe := s.client.TxPipeline()
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-s.opts.ChatRing), -1)
		pipe.Expire(ctx, key, s.opts.ChatTTL)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

// RecentChats returns up to limit messages from the room's ring, oldest
// first. limit <= 0 returns the whole ring.
func (s *Service) RecentChats(ctx context.Context, roomID types.RoomIDType, limit int) ([]types.ChatInfo, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	res, err := s.execute("recent_chats", func() (interface{}, error) {
		start := int64(0)
		if limit > 0 {
			start = int64(-limit)
		}
		raws, err := s.client.LRange(ctx, chatKey(roomID), start, -1).Result()
		if err != nil {
			return nil, err
		}
		msgs := make([]types.ChatInfo, 0, len(raws))
		for _, raw := range raws {
			var m types.ChatInfo
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				slog.Error("Failed to unmarshal chat message", "roomId", string(roomID), "error", err)
				continue
			}
			msgs = append(msgs, m)
		}
		return msgs, nil
	})
	if err != nil || res == nil {
		return nil, err
	}
	return res.([]types.ChatInfo), nil
}

// Ping checks Redis connectivity using the PING command
// Used by health checks to verify Redis is reachable
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}
	return s.client.Close()
}

var _ types.EphemeralStore = (*Service)(nil)
