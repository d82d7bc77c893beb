package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeFormat = time.RFC3339Nano

const sqliteSchema = `CREATE TABLE IF NOT EXISTS entries (
	key       TEXT PRIMARY KEY,
	record    BLOB NOT NULL,
	stored_at TEXT NOT NULL
)`

// SQLiteOpener 为每个命名缓存使用 basePath/<name>.db 单文件数据库。
func SQLiteOpener(basePath string) Opener {
	return func(ctx context.Context, name string) (Store, error) {
		return OpenSQLiteStore(ctx, filepath.Join(basePath, name+".db"))
	}
}

// OpenSQLiteStore 打开（必要时创建）SQLite 缓存并确保表结构存在。
func OpenSQLiteStore(ctx context.Context, path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}

	return &sqliteStore{sqlDB: sqlDB, now: time.Now}, nil
}

type sqliteStore struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func (s *sqliteStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT record FROM entries WHERE key = ?`, string(key)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return decodeEntry(data)
}

func (s *sqliteStore) Put(ctx context.Context, key Key, resp *Response) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("response required")
	}
	entry := newEntry(key, resp, s.now())
	data, err := encodeEntry(entry)
	if err != nil {
		return nil, err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO entries (key, record, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET record = excluded.record, stored_at = excluded.stored_at`,
		string(key), data, entry.StoredAt.Format(sqliteTimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert entry: %w", err)
	}
	return entry, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
