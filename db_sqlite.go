package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLiteDB is the embedded single-file store.
type SQLiteDB struct {
	*sqlStore
	path string
}

func NewSQLiteDB(ctx context.Context, path string) (*SQLiteDB, error) {
	d, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" databases on a single connection
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{
		sqlStore: &sqlStore{db: d, isUnique: isSQLiteUniqueViolation, now: time.Now},
		path:     path,
	}
	if err := s.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init(ctx context.Context) error {
	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS clients (id INTEGER PRIMARY KEY AUTOINCREMENT, client_id TEXT NOT NULL UNIQUE, client_secret TEXT NOT NULL, name TEXT NOT NULL DEFAULT '', created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '', created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS shops (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '', created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS admins (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '', created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			user_id INTEGER REFERENCES users(id),
			shop_id INTEGER REFERENCES shops(id),
			admin_id INTEGER REFERENCES admins(id),
			created_at INTEGER NOT NULL,
			CHECK ((user_id IS NOT NULL) + (shop_id IS NOT NULL) + (admin_id IS NOT NULL) = 1)
		);`,
		`CREATE TABLE IF NOT EXISTS tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			access_token TEXT NOT NULL UNIQUE,
			refresh_token TEXT NOT NULL UNIQUE,
			access_expires_at INTEGER NOT NULL,
			refresh_expires_at INTEGER NOT NULL,
			client_id INTEGER NOT NULL REFERENCES clients(id),
			credential_id INTEGER NOT NULL REFERENCES credentials(id),
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS tokens_credential_id_idx ON tokens(credential_id);`,
		`CREATE INDEX IF NOT EXISTS tokens_client_id_idx ON tokens(client_id);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite init: %w", err)
		}
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		// without extended result codes only the primary code is reported
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}
