// Package postgres keeps version histories in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aretw0/autoversion/pkg/auth"
	"github.com/aretw0/autoversion/pkg/core"
)

// ErrConcurrentVersion is returned when another writer created the same
// label first.
var ErrConcurrentVersion = errors.New("version label already taken")

const uniqueViolation = "23505"

// VersionStore implements core.VersionStore using PostgreSQL.
type VersionStore struct {
	db *sql.DB
}

// NewVersionStore opens the database and creates the versions table if it
// does not exist.
func NewVersionStore(ctx context.Context, connStr string) (*VersionStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &VersionStore{db: db}
	if err := store.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *VersionStore) Close() error {
	return s.db.Close()
}

// LatestVersionTime implements core.VersionStore.
func (s *VersionStore) LatestVersionTime(ctx context.Context, ref core.NodeRef) (time.Time, bool, error) {
	query := `
		SELECT created_at
		FROM autoversion_versions
		WHERE ref = $1
		ORDER BY major DESC, minor DESC
		LIMIT 1
	`

	var created time.Time
	err := s.db.QueryRowContext(ctx, query, string(ref)).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read latest version of %s: %w", ref, err)
	}
	return created, true, nil
}

// CreateVersion implements core.VersionStore. Writers of the same node are
// serialised with a transaction scoped advisory lock.
func (s *VersionStore) CreateVersion(ctx context.Context, req core.VersionRequest) (core.Version, error) {
	creator, ok := auth.UserFrom(ctx)
	if !ok {
		creator = auth.AnonymousUser
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Version{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(req.Ref)); err != nil {
		return core.Version{}, fmt.Errorf("failed to lock history of %s: %w", req.Ref, err)
	}

	var previous string
	err = tx.QueryRowContext(ctx, `
		SELECT label
		FROM autoversion_versions
		WHERE ref = $1
		ORDER BY major DESC, minor DESC
		LIMIT 1
	`, string(req.Ref)).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.Version{}, fmt.Errorf("failed to read history of %s: %w", req.Ref, err)
	}

	label, err := core.NextLabel(previous, req.Kind)
	if err != nil {
		return core.Version{}, err
	}
	major, minor, err := core.ParseLabel(label)
	if err != nil {
		return core.Version{}, err
	}

	v := core.Version{
		ID:          uuid.New().String(),
		Ref:         req.Ref,
		Label:       label,
		Kind:        req.Kind,
		Description: req.Description,
		Creator:     creator,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO autoversion_versions (id, ref, label, major, minor, kind, description, creator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, v.ID, string(v.Ref), v.Label, major, minor, string(v.Kind), v.Description, v.Creator, time.Now().UTC()).Scan(&v.Created)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return core.Version{}, fmt.Errorf("%w: %s %s", ErrConcurrentVersion, req.Ref, label)
		}
		return core.Version{}, fmt.Errorf("failed to create version of %s: %w", req.Ref, err)
	}

	if err := tx.Commit(); err != nil {
		return core.Version{}, fmt.Errorf("failed to commit version of %s: %w", req.Ref, err)
	}
	return v, nil
}

// DeleteHistory implements core.VersionStore.
func (s *VersionStore) DeleteHistory(ctx context.Context, ref core.NodeRef) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM autoversion_versions WHERE ref = $1`, string(ref)); err != nil {
		return fmt.Errorf("failed to delete versions of %s: %w", ref, err)
	}
	return nil
}

// History returns the versions of ref, oldest first.
func (s *VersionStore) History(ctx context.Context, ref core.NodeRef) ([]core.Version, error) {
	query := `
		SELECT id, ref, label, kind, description, creator, created_at
		FROM autoversion_versions
		WHERE ref = $1
		ORDER BY major, minor
	`

	rows, err := s.db.QueryContext(ctx, query, string(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", ref, err)
	}
	defer rows.Close()

	var versions []core.Version
	for rows.Next() {
		var (
			v         core.Version
			refString string
			kind      string
		)
		if err := rows.Scan(&v.ID, &refString, &v.Label, &kind, &v.Description, &v.Creator, &v.Created); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.Ref = core.NodeRef(refString)
		v.Kind = core.VersionKind(kind)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return versions, nil
}

var _ core.VersionStore = (*VersionStore)(nil)
