package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so the store can be exercised against a
// mock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	createTableSQL = `
        CREATE TABLE IF NOT EXISTS behavior_profiles (
            id           TEXT PRIMARY KEY,
            name         TEXT NOT NULL,
            document     JSONB NOT NULL,
            created_at   TIMESTAMPTZ NOT NULL,
            last_used_at TIMESTAMPTZ NOT NULL
        )`

	upsertProfileSQL = `
        INSERT INTO behavior_profiles (id, name, document, created_at, last_used_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE
        SET name = EXCLUDED.name,
            document = EXCLUDED.document,
            last_used_at = EXCLUDED.last_used_at`

	selectProfileSQL = `SELECT document FROM behavior_profiles WHERE id = $1`
	deleteProfileSQL = `DELETE FROM behavior_profiles WHERE id = $1`
	listProfilesSQL  = `SELECT document FROM behavior_profiles ORDER BY last_used_at DESC`
)

// PostgresStore keeps profile documents in a behavior_profiles table, one
// JSONB document per profile. Suited to fleets where many workers share one
// profile pool.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ProfileStore = (*PostgresStore)(nil)

// Connect opens a pgx pool for the given DSN. The connection is verified
// lazily by NewPostgresStore's ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &schemas.IOError{Op: "open database pool", Err: err}
	}
	return pool, nil
}

// NewPostgresStore verifies the connection and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, &schemas.IOError{Op: "ping database", Err: err}
	}
	s := &PostgresStore{pool: pool, log: logger.Named("postgres-store")}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return &schemas.IOError{Op: "create schema", Err: err}
	}
	return nil
}

// SaveProfile upserts the profile's JSONB document.
func (s *PostgresStore) SaveProfile(ctx context.Context, profile *schemas.BehaviorProfile) error {
	if profile == nil || profile.ID == "" {
		return &schemas.ValidationError{Field: "id", Message: "must not be empty"}
	}
	doc, err := json.Marshal(profile)
	if err != nil {
		return &schemas.IOError{Op: "encode profile", Err: err}
	}
	_, err = s.pool.Exec(ctx, upsertProfileSQL,
		profile.ID, profile.Name, doc, profile.CreatedAt.UTC(), profile.LastUsedAt.UTC())
	if err != nil {
		return &schemas.IOError{Op: "save profile", Err: err}
	}
	s.log.Debug("profile saved", zap.String("id", profile.ID))
	return nil
}

// GetProfile decodes the stored document for id.
func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*schemas.BehaviorProfile, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, selectProfileSQL, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &schemas.NotFoundError{ID: id}
		}
		return nil, &schemas.IOError{Op: "read profile", Err: err}
	}
	var p schemas.BehaviorProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, &schemas.IOError{Op: "decode profile", Err: err}
	}
	return &p, nil
}

// DeleteProfile removes the row for id.
func (s *PostgresStore) DeleteProfile(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteProfileSQL, id)
	if err != nil {
		return &schemas.IOError{Op: "delete profile", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &schemas.NotFoundError{ID: id}
	}
	return nil
}

// ListProfiles decodes every stored document, most recently used first.
func (s *PostgresStore) ListProfiles(ctx context.Context) ([]*schemas.BehaviorProfile, error) {
	rows, err := s.pool.Query(ctx, listProfilesSQL)
	if err != nil {
		return nil, &schemas.IOError{Op: "list profiles", Err: err}
	}
	defer rows.Close()

	var out []*schemas.BehaviorProfile
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, &schemas.IOError{Op: "scan profile row", Err: err}
		}
		var p schemas.BehaviorProfile
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, &schemas.IOError{Op: "decode profile", Err: err}
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, &schemas.IOError{Op: "iterate profiles", Err: err}
	}
	return out, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
