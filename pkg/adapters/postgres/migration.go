package postgres

import "context"

// createTable creates the versions table if it doesn't exist.
func (s *VersionStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS autoversion_versions (
		id VARCHAR(36) PRIMARY KEY,
		ref TEXT NOT NULL,
		label VARCHAR(32) NOT NULL,
		major INTEGER NOT NULL,
		minor INTEGER NOT NULL,
		kind VARCHAR(8) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		creator TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (ref, label)
	);

	CREATE INDEX IF NOT EXISTS idx_autoversion_versions_ref ON autoversion_versions(ref, major, minor);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}
