package store

import (
	"context"
	"errors"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/logging"
	"github.com/devansh6012/code-collab/internal/v1/metrics"
	"github.com/devansh6012/code-collab/internal/v1/types"
	"go.uber.org/zap"
)

const (
	defaultAttempts  = 3
	baseBackoff      = 100 * time.Millisecond
	attemptTimeout   = 5 * time.Second
	backoffMultipler = 4
)

// RetryingStore decorates a DocumentStore with bounded retries for transient
// failures. Sentinel errors (not found, forbidden, conflict) and context
// cancellation pass through immediately; everything else is assumed to be a
// blip in the database and retried with exponential backoff.
type RetryingStore struct {
	inner    types.DocumentStore
	attempts int
}

// WithRetry wraps a store. attempts <= 0 uses the default of 3.
func WithRetry(inner types.DocumentStore, attempts int) *RetryingStore {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	return &RetryingStore{inner: inner, attempts: attempts}
}

func permanent(err error) bool {
	return errors.Is(err, types.ErrNotFound) ||
		errors.Is(err, types.ErrForbidden) ||
		errors.Is(err, types.ErrConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// do runs fn up to r.attempts times. Each attempt gets its own timeout so a
// hung connection cannot stall the room hub.
func (r *RetryingStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := baseBackoff
	var err error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err = fn(attemptCtx)
		cancel()

		if err == nil || permanent(err) {
			return err
		}

		if attempt < r.attempts {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			logging.Warn(ctx, "store operation failed, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= backoffMultipler
		}
	}

	logging.Error(ctx, "store operation failed after all retries",
		zap.String("operation", op),
		zap.Int("attempts", r.attempts),
		zap.Error(err))
	return err
}

func (r *RetryingStore) LoadFile(ctx context.Context, fileID types.FileIDType) (*types.File, error) {
	var f *types.File
	err := r.do(ctx, "load_file", func(ctx context.Context) error {
		var err error
		f, err = r.inner.LoadFile(ctx, fileID)
		return err
	})
	return f, err
}

func (r *RetryingStore) SaveContent(ctx context.Context, fileID types.FileIDType, content string) error {
	return r.do(ctx, "save_content", func(ctx context.Context) error {
		return r.inner.SaveContent(ctx, fileID, content)
	})
}

func (r *RetryingStore) AppendVersion(ctx context.Context, fileID types.FileIDType, priorContent string, userID types.ClientIDType) error {
	return r.do(ctx, "append_version", func(ctx context.Context) error {
		return r.inner.AppendVersion(ctx, fileID, priorContent, userID)
	})
}

func (r *RetryingStore) ListFiles(ctx context.Context, roomID types.RoomIDType) ([]types.File, error) {
	var files []types.File
	err := r.do(ctx, "list_files", func(ctx context.Context) error {
		var err error
		files, err = r.inner.ListFiles(ctx, roomID)
		return err
	})
	return files, err
}

func (r *RetryingStore) ListVersions(ctx context.Context, fileID types.FileIDType) ([]types.FileVersion, error) {
	var versions []types.FileVersion
	err := r.do(ctx, "list_versions", func(ctx context.Context) error {
		var err error
		versions, err = r.inner.ListVersions(ctx, fileID)
		return err
	})
	return versions, err
}

func (r *RetryingStore) CreateFile(ctx context.Context, roomID types.RoomIDType, name, language string) (*types.File, error) {
	var f *types.File
	err := r.do(ctx, "create_file", func(ctx context.Context) error {
		var err error
		f, err = r.inner.CreateFile(ctx, roomID, name, language)
		return err
	})
	return f, err
}

func (r *RetryingStore) DeleteFile(ctx context.Context, fileID types.FileIDType) error {
	return r.do(ctx, "delete_file", func(ctx context.Context) error {
		return r.inner.DeleteFile(ctx, fileID)
	})
}

func (r *RetryingStore) RoomMember(ctx context.Context, roomID types.RoomIDType, userID types.ClientIDType) (bool, error) {
	var member bool
	err := r.do(ctx, "room_member", func(ctx context.Context) error {
		var err error
		member, err = r.inner.RoomMember(ctx, roomID, userID)
		return err
	})
	return member, err
}

// Ping is not retried; readiness probes want the current answer.
func (r *RetryingStore) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

var _ types.DocumentStore = (*RetryingStore)(nil)
