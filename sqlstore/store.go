// Package sqlstore is a SQLite-backed entity.Adapter. Rows are stored as JSON documents
// keyed by (type, id), so any entity shape fits without a migration.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/mykhaliev/agent-oracle/entity"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/model"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

type Store struct {
	db *sql.DB
}

var _ entity.Adapter = (*Store)(nil)

// Open opens (or creates) a database at dsn. ":memory:" gives a private in-memory store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// One connection: an in-memory database is per-connection, and SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	store, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New creates the entities table and index if they don't exist.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT    NOT NULL,
			id         TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (type, id)
		)
	`); err != nil {
		return nil, fmt.Errorf("create entities table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entities_type_id
		ON entities (type, id)
	`); err != nil {
		return nil, fmt.Errorf("create entities index: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindByID(ctx context.Context, entityType, id string) (model.EntityRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE type = ? AND id = ?`, entityType, id)
	return scanRow(row)
}

func (s *Store) FindByTitle(ctx context.Context, entityType, title string) (model.EntityRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM entities
		 WHERE type = ? AND json_extract(data, '$.title') = ?
		 ORDER BY seq
		 LIMIT 1`, entityType, title)
	return scanRow(row)
}

// List returns rows of a type in insertion order. Filters compare top-level JSON fields;
// a nil filter matches fields that are null or absent.
func (s *Store) List(ctx context.Context, entityType string, filters entity.Filters) ([]model.EntityRow, error) {
	query := `SELECT data FROM entities WHERE type = ?`
	args := []interface{}{entityType}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query += ` AND json_extract(data, ?) IS ?`
		args = append(args, "$."+k, sqlValue(filters[k]))
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []model.EntityRow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entityType, err)
		}
		row, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s rows: %w", entityType, err)
	}
	return out, nil
}

// Insert stores a row, assigning a UUID when it has no id.
func (s *Store) Insert(ctx context.Context, entityType string, row model.EntityRow) (model.EntityRow, error) {
	stored := model.EntityRow{}
	for k, v := range row {
		stored[k] = v
	}
	if stored.ID() == "" {
		stored["id"] = uuid.NewString()
	}

	data, err := sonic.MarshalString(stored)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", entityType, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (type, id, data, created_at) VALUES (?, ?, ?, ?)`,
		entityType, stored.ID(), data, time.Now().UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("insert %s %s: %w", entityType, stored.ID(), err)
	}

	logger.Logger.Debug("Entity inserted", "type", entityType, "id", stored.ID())
	return decode(data)
}

// Update merges fields into an existing row. The id cannot change.
func (s *Store) Update(ctx context.Context, entityType, id string, fields map[string]interface{}) (model.EntityRow, error) {
	row, err := s.FindByID(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		row[k] = v
	}

	data, err := sonic.MarshalString(row)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", entityType, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE entities SET data = ? WHERE type = ? AND id = ?`, data, entityType, id,
	); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", entityType, id, err)
	}
	return decode(data)
}

func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE type = ? AND id = ?`, entityType, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", entityType, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s %s: %w", entityType, id, entity.ErrNotFound)
	}
	return nil
}

// Reset deletes every row. Used between runs to isolate them.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("reset entities: %w", err)
	}
	return nil
}

// Seed inserts fixture rows grouped by entity type.
func (s *Store) Seed(ctx context.Context, fixtures map[string][]model.EntityRow) error {
	types := make([]string, 0, len(fixtures))
	for t := range fixtures {
		types = append(types, t)
	}
	sort.Strings(types)

	var errs []error
	for _, t := range types {
		for _, row := range fixtures[t] {
			if _, err := s.Insert(ctx, t, row); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func scanRow(row *sql.Row) (model.EntityRow, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	return decode(data)
}

func decode(data string) (model.EntityRow, error) {
	var row map[string]interface{}
	if err := sonic.UnmarshalString(data, &row); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return model.EntityRow(row), nil
}

// sqlValue maps a filter value onto what json_extract yields for it.
func sqlValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case bool:
		if typed {
			return 1
		}
		return 0
	case string, int, int64, float64, nil:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}
