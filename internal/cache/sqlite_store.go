package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteFileName = "offline-hub.db"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stores (name TEXT PRIMARY KEY, created_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS entries (
		store TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		payload BLOB NOT NULL,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (store, fingerprint)
	)`,
}

// NewSQLiteStorage 在 basePath 下创建单文件 SQLite 数据库保存全部缓存。
func NewSQLiteStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(basePath, sqliteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接：写入串行执行，同一指纹最后写入者胜出
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db *sql.DB
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)",
		name, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &sqliteStore{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

func (c *sqliteStore) Name() string {
	return c.name
}

func (c *sqliteStore) Match(ctx context.Context, fp Fingerprint) (*Snapshot, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT payload FROM entries WHERE store = ? AND fingerprint = ?",
		c.name, string(fp)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeSnapshot(payload)
}

func (c *sqliteStore) Put(ctx context.Context, fp Fingerprint, snap *Snapshot) error {
	if !fp.Storable() {
		return ErrMethodNotAllowed
	}
	if snap == nil {
		return errors.New("nil snapshot")
	}

	record := snap.Clone()
	record.Key = fp
	if record.StoredAt.IsZero() {
		record.StoredAt = time.Now().UTC()
	}
	payload, err := encodeSnapshot(record)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM stores WHERE name = ?", c.name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStoreDeleted
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (store, fingerprint, payload, stored_at) VALUES (?, ?, ?, ?)",
		c.name, string(fp), payload, record.StoredAt.Unix())
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (c *sqliteStore) Len(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE store = ?", c.name).Scan(&count)
	return count, err
}

func (c *sqliteStore) Keys(ctx context.Context) ([]Fingerprint, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT fingerprint FROM entries WHERE store = ?", c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Fingerprint
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, Fingerprint(key))
	}
	return keys, rows.Err()
}
