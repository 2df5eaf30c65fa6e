package main

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const pqUniqueViolation = pq.ErrorCode("23505")

// PostgresDB relies on migrations (see internal/dbmigrate) for its schema.
type PostgresDB struct {
	*sqlStore
	dsn string
}

func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	d, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{
		sqlStore: &sqlStore{db: d, isUnique: isPostgresUniqueViolation, now: time.Now},
		dsn:      dsn,
	}
	if err := p.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init(ctx context.Context) error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.PingContext(ctx)
}

func isPostgresUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == pqUniqueViolation
	}
	return false
}
