package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/devansh6012/code-collab/internal/v1/types"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements types.DocumentStore using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and bootstraps the schema.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}

	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity, used by readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadFile returns a file with its canonical content.
func (s *PostgresStore) LoadFile(ctx context.Context, fileID types.FileIDType) (*types.File, error) {
	query := `
		SELECT id, room_id, name, content, language, created_at, updated_at
		FROM files
		WHERE id = $1
	`

	f := &types.File{}
	err := s.db.QueryRowContext(ctx, query, string(fileID)).Scan(
		&f.ID,
		&f.RoomID,
		&f.Name,
		&f.Content,
		&f.Language,
		&f.CreatedAt,
		&f.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	return f, nil
}

// SaveContent replaces a file's canonical content.
func (s *PostgresStore) SaveContent(ctx context.Context, fileID types.FileIDType, content string) error {
	query := `
		UPDATE files
		SET content = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, string(fileID), content, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save content: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return types.ErrNotFound
	}

	return nil
}

// AppendVersion records a snapshot of a file's content before an edit.
// The version id is a hash of the file id and the snapshotted content, so a
// retry after a transient failure hits ON CONFLICT instead of inserting a
// duplicate row.
func (s *PostgresStore) AppendVersion(ctx context.Context, fileID types.FileIDType, priorContent string, userID types.ClientIDType) error {
	query := `
		INSERT INTO file_versions (id, file_id, content, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		versionID(fileID, priorContent), string(fileID), priorContent, string(userID), time.Now())
	if err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}

	return nil
}

// versionID derives a stable snapshot id from the file and its content.
func versionID(fileID types.FileIDType, content string) string {
	h := sha256.New()
	h.Write([]byte(fileID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// ListFiles returns the file roster for a room, most recently updated first.
func (s *PostgresStore) ListFiles(ctx context.Context, roomID types.RoomIDType) ([]types.File, error) {
	query := `
		SELECT id, room_id, name, content, language, created_at, updated_at
		FROM files
		WHERE room_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, string(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []types.File
	for rows.Next() {
		var f types.File
		err := rows.Scan(
			&f.ID,
			&f.RoomID,
			&f.Name,
			&f.Content,
			&f.Language,
			&f.CreatedAt,
			&f.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return files, nil
}

// ListVersions returns up to the 50 most recent snapshots for a file,
// newest first.
func (s *PostgresStore) ListVersions(ctx context.Context, fileID types.FileIDType) ([]types.FileVersion, error) {
	query := `
		SELECT id, file_id, content, user_id, created_at
		FROM file_versions
		WHERE file_id = $1
		ORDER BY created_at DESC
		LIMIT 50
	`

	rows, err := s.db.QueryContext(ctx, query, string(fileID))
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []types.FileVersion
	for rows.Next() {
		var v types.FileVersion
		err := rows.Scan(
			&v.ID,
			&v.FileID,
			&v.Content,
			&v.UserID,
			&v.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return versions, nil
}

// CreateFile adds an empty file to a room's roster.
func (s *PostgresStore) CreateFile(ctx context.Context, roomID types.RoomIDType, name, language string) (*types.File, error) {
	id := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO files (id, room_id, name, content, language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, room_id, name, content, language, created_at, updated_at
	`

	f := &types.File{}
	err := s.db.QueryRowContext(ctx, query, id, string(roomID), name, "", language, now, now).Scan(
		&f.ID,
		&f.RoomID,
		&f.Name,
		&f.Content,
		&f.Language,
		&f.CreatedAt,
		&f.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return f, nil
}

// DeleteFile removes a file and its version history.
func (s *PostgresStore) DeleteFile(ctx context.Context, fileID types.FileIDType) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, string(fileID))
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return types.ErrNotFound
	}

	return nil
}

// RoomMember reports whether a user belongs to a room. The room owner is
// always a member.
func (s *PostgresStore) RoomMember(ctx context.Context, roomID types.RoomIDType, userID types.ClientIDType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2
			UNION
			SELECT 1 FROM rooms WHERE id = $1 AND owner_id = $2
		)
	`

	var member bool
	if err := s.db.QueryRowContext(ctx, query, string(roomID), string(userID)).Scan(&member); err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}

	return member, nil
}

// Compile-time check to ensure PostgresStore implements the DocumentStore interface
var _ types.DocumentStore = (*PostgresStore)(nil)
