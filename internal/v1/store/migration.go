package store

// createTables creates the schema if it doesn't exist
func (s *PostgresStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(128) PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		email VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		owner_id VARCHAR(128) NOT NULL,
		invite_code VARCHAR(36) NOT NULL UNIQUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id VARCHAR(36) NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id VARCHAR(128) NOT NULL,
		joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS files (
		id VARCHAR(36) PRIMARY KEY,
		room_id VARCHAR(36) NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		content TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_versions (
		id VARCHAR(36) PRIMARY KEY,
		file_id VARCHAR(36) NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_room_id ON files(room_id);
	CREATE INDEX IF NOT EXISTS idx_files_updated_at ON files(updated_at);
	CREATE INDEX IF NOT EXISTS idx_file_versions_file_id ON file_versions(file_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_room_members_user_id ON room_members(user_id);
	`

	_, err := s.db.Exec(query)
	return err
}
