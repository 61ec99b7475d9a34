package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/logging"
	"github.com/devansh6012/code-collab/internal/v1/metrics"
	"github.com/devansh6012/code-collab/internal/v1/ot"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// chatHistoryLimit caps how many messages a history request returns.
const chatHistoryLimit = 50

// Router dispatches an inbound frame to its handler. join-room and
// leave-room never reach here; the transport resolves those into
// HandleClientConnect / HandleClientDisconnect.
func (r *Room) Router(ctx context.Context, client types.ClientInterface, msg *types.Message) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.WebsocketEvents.WithLabelValues(string(msg.Event), status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues(string(msg.Event)).Observe(time.Since(start).Seconds())
	}()

	switch msg.Event {
	case types.EventCodeChange:
		var p types.CodeChangePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			status = "malformed"
			r.sendError(client, "malformed code-change payload")
			return
		}
		r.HandleCodeChange(ctx, client, p)

	case types.EventCursorPosition:
		var p types.CursorPositionPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			status = "malformed"
			return
		}
		r.HandleCursor(ctx, client, p)

	case types.EventChatMessage:
		var p types.ChatMessagePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			status = "malformed"
			r.sendError(client, "malformed chat-message payload")
			return
		}
		r.HandleChat(ctx, client, p)

	case types.EventGetChatHistory:
		r.HandleGetChatHistory(ctx, client)

	case types.EventGetVersions:
		var p types.GetVersionsPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			status = "malformed"
			r.sendError(client, "malformed get-version-history payload")
			return
		}
		r.HandleGetVersions(ctx, client, p)

	case types.EventCreateFile:
		var p types.CreateFilePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			status = "malformed"
			r.sendError(client, "malformed create-file payload")
			return
		}
		r.HandleCreateFile(ctx, client, p)

	case types.EventDeleteFile:
		var p types.DeleteFilePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			status = "malformed"
			r.sendError(client, "malformed delete-file payload")
			return
		}
		r.HandleDeleteFile(ctx, client, p)

	default:
		status = "unknown"
		logging.Warn(ctx, "Unknown message type received",
			zap.String("event", string(msg.Event)),
			zap.String("clientId", string(client.GetID())))
	}
}

// HandleCodeChange runs the edit pipeline: transform the incoming operation
// against concurrent operations already applied, apply it to the canonical
// content, snapshot + persist, log it for future transforms, and fan out.
// The whole sequence runs under the room lock so edits apply one at a time.
func (r *Room) HandleCodeChange(ctx context.Context, client types.ClientInterface, p types.CodeChangePayload) {
	op := p.Op
	// Identity comes from the authenticated session, never the payload.
	op.UserID = string(client.GetID())
	if op.Timestamp == 0 {
		op.Timestamp = time.Now().UnixMilli()
	}

	if op.IsNoop() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	window, err := r.cache.ListOps(ctx, p.FileID)
	if err != nil {
		// A lost window means the edit applies untransformed. Acceptable:
		// content stays consistent because application is still serial.
		logging.Warn(ctx, "Op log unavailable, applying untransformed", zap.Error(err))
		window = nil
	}

	// Timestamps order nothing across clients; every logged operation from
	// another user counts as concurrent. The sender's own logged ops are the
	// causal history its positions already account for.
	concurrent := make([]ot.Operation, 0, len(window))
	for _, w := range ot.Compose(window) {
		if w.UserID != op.UserID {
			concurrent = append(concurrent, w)
		}
	}
	transformed := ot.TransformAgainst(op, concurrent)
	metrics.OperationsTransformed.WithLabelValues(string(transformed.Type)).Inc()

	file, err := r.docs.LoadFile(ctx, p.FileID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			r.sendError(client, "file not found")
			return
		}
		logging.Error(ctx, "Failed to load file for edit", zap.String("fileId", string(p.FileID)), zap.Error(err))
		r.sendError(client, "edit failed")
		return
	}

	updated := ot.Apply(file.Content, transformed)
	if updated != file.Content {
		// Snapshot the pre-edit content at most once per coalescing window,
		// then persist the new canonical content.
		if time.Since(r.lastVersionAt[p.FileID]) >= versionCoalesceWindow {
			if err := r.docs.AppendVersion(ctx, p.FileID, file.Content, client.GetID()); err != nil {
				logging.Warn(ctx, "Failed to append version snapshot", zap.Error(err))
			} else {
				r.lastVersionAt[p.FileID] = time.Now()
			}
		}

		if err := r.docs.SaveContent(ctx, p.FileID, updated); err != nil {
			logging.Error(ctx, "Failed to save content", zap.String("fileId", string(p.FileID)), zap.Error(err))
			r.sendError(client, "edit failed")
			return
		}
	}

	if err := r.cache.PushOp(ctx, p.FileID, transformed); err != nil {
		logging.Warn(ctx, "Failed to log applied operation", zap.Error(err))
	}

	r.broadcastExceptLocked(client, types.EventCodeUpdate, types.CodeUpdatePayload{
		FileID: p.FileID,
		Op:     transformed,
		UserID: client.GetID(),
	})
}

// HandleCursor updates the sender's presence record and relays the position
// to everyone else. Cursor frames ride the droppable queue; a missed one is
// superseded by the next within a keystroke.
func (r *Room) HandleCursor(ctx context.Context, client types.ClientInterface, p types.CursorPositionPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pres, ok := r.presence[client.GetID()]
	if !ok {
		return
	}
	pres.Cursor = &types.CursorInfo{FileID: p.FileID, Line: p.Line, Column: p.Column}

	if err := r.cache.PutPresence(ctx, r.ID, *pres); err != nil {
		logging.Warn(ctx, "Failed to refresh presence entry", zap.Error(err))
	}

	r.broadcastExceptLocked(client, types.EventCursorUpdate, types.CursorUpdatePayload{
		FileID:   p.FileID,
		UserID:   client.GetID(),
		Username: client.GetDisplayName(),
		Color:    pres.Color,
		Line:     p.Line,
		Column:   p.Column,
	})
}

// HandleChat stamps the message with a server id and timestamp, stores it in
// the room's ring, and fans it out to everyone including the sender, whose
// client replaces its optimistic copy with the authoritative one. Stamp,
// store, and fanout run under the room lock so every participant and the
// ring observe concurrent messages in the same order.
func (r *Room) HandleChat(ctx context.Context, client types.ClientInterface, p types.ChatMessagePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := types.ChatInfo{
		ID:          uuid.New().String(),
		UserID:      client.GetID(),
		Username:    client.GetDisplayName(),
		Message:     p.Message,
		CodeSnippet: p.CodeSnippet,
		Timestamp:   time.Now().UnixMilli(),
	}

	if err := msg.Validate(); err != nil {
		r.sendError(client, err.Error())
		return
	}

	if err := r.cache.PushChat(ctx, r.ID, msg); err != nil {
		logging.Warn(ctx, "Failed to store chat message", zap.Error(err))
	}

	r.broadcastLocked(types.EventChatMessage, msg)
}

// HandleGetChatHistory sends the recent ring contents to the requester only.
func (r *Room) HandleGetChatHistory(ctx context.Context, client types.ClientInterface) {
	msgs, err := r.cache.RecentChats(ctx, r.ID, chatHistoryLimit)
	if err != nil {
		logging.Warn(ctx, "Failed to load chat history", zap.Error(err))
	}
	if msgs == nil {
		msgs = []types.ChatInfo{}
	}

	data, err := encodeMessage(types.EventChatHistory, types.ChatHistoryPayload{Messages: msgs})
	if err != nil {
		return
	}
	client.SendRaw(data)
}

// HandleGetVersions sends a file's snapshot history to the requester only.
func (r *Room) HandleGetVersions(ctx context.Context, client types.ClientInterface, p types.GetVersionsPayload) {
	versions, err := r.docs.ListVersions(ctx, p.FileID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			r.sendError(client, "file not found")
			return
		}
		logging.Warn(ctx, "Failed to load version history", zap.String("fileId", string(p.FileID)), zap.Error(err))
		r.sendError(client, "version history unavailable")
		return
	}
	if versions == nil {
		versions = []types.FileVersion{}
	}

	data, err := encodeMessage(types.EventVersions, types.VersionsPayload{FileID: p.FileID, Versions: versions})
	if err != nil {
		return
	}
	client.SendRaw(data)
}

// HandleCreateFile adds a file to the room roster and announces it. Create
// and fanout share the room lock so concurrent announcements cannot
// interleave across participants.
func (r *Room) HandleCreateFile(ctx context.Context, client types.ClientInterface, p types.CreateFilePayload) {
	if p.Name == "" {
		r.sendError(client, "file name cannot be empty")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.docs.CreateFile(ctx, r.ID, p.Name, p.Language)
	if err != nil {
		logging.Error(ctx, "Failed to create file", zap.String("room", string(r.ID)), zap.Error(err))
		r.sendError(client, "create failed")
		return
	}

	logging.Info(ctx, "File created",
		zap.String("room", string(r.ID)),
		zap.String("fileId", string(file.ID)),
		zap.String("clientId", string(client.GetID())))

	r.broadcastLocked(types.EventFileCreated, *file)
}

// HandleDeleteFile removes a file, clears its op log, and announces it.
func (r *Room) HandleDeleteFile(ctx context.Context, client types.ClientInterface, p types.DeleteFilePayload) {
	if err := r.docs.DeleteFile(ctx, p.FileID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			r.sendError(client, "file not found")
			return
		}
		logging.Error(ctx, "Failed to delete file", zap.String("fileId", string(p.FileID)), zap.Error(err))
		r.sendError(client, "delete failed")
		return
	}

	if err := r.cache.DropOps(ctx, p.FileID); err != nil {
		logging.Warn(ctx, "Failed to drop op log for deleted file", zap.Error(err))
	}

	r.mu.Lock()
	delete(r.lastVersionAt, p.FileID)
	r.broadcastLocked(types.EventFileDeleted, types.DeleteFilePayload{FileID: p.FileID})
	r.mu.Unlock()
}
