package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"
)

const unlockTimeout = 5 * time.Second

// AdvisoryLocker takes Postgres session advisory locks. Each held key pins
// one pooled connection until it is released, so every instance sharing the
// database serializes on the same key.
type AdvisoryLocker struct {
	db *sql.DB
}

func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// Lock blocks until key is held or ctx ends.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: lock %s: %w", key, err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("store: lock %s: %w", key, err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			// A session lock dies with its session; drop the connection
			// instead of returning it to the pool still holding the key.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}
