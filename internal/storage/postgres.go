package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"coursewatch/internal/domain"
	"coursewatch/internal/ports"
)

const snapshotsTable = "session_snapshots"

// PostgresStore persists session snapshots as JSONB rows keyed by identity.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.SnapshotStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the snapshots table when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+snapshotsTable+` (
		identity   TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save upserts the snapshot for the identity.
func (s *PostgresStore) Save(ctx context.Context, key string, snap domain.Snapshot) error {
	if s.db == nil {
		return nil
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query, args, err := s.builder.
		Insert(snapshotsTable).
		Columns("identity", "payload").
		Values(key, payload).
		Suffix("ON CONFLICT (identity) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load reads every stored snapshot keyed by identity.
func (s *PostgresStore) Load(ctx context.Context) (map[string]domain.Snapshot, error) {
	result := map[string]domain.Snapshot{}
	if s.db == nil {
		return result, nil
	}

	query, args, err := s.builder.
		Select("identity", "payload").
		From(snapshotsTable).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			identity string
			payload  []byte
		)
		if err := rows.Scan(&identity, &payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		var snap domain.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", identity, err)
		}
		result[identity] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// Delete removes the snapshot for the identity.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if s.db == nil {
		return nil
	}

	query, args, err := s.builder.
		Delete(snapshotsTable).
		Where(sq.Eq{"identity": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
