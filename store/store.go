// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

// Package store persists normalized declarations in Postgres. Each
// declaration commits in one transaction: the principal row is upserted and
// every child table is replaced wholesale, so a re-sync can never leave
// stale children behind.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Error wraps a database failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Store is a live Postgres handle.
type Store struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// Open connects and verifies the connection. The initial ping retries up to
// three times with exponential backoff before giving up.
func Open(ctx context.Context, dsn string, log *zap.SugaredLogger) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			log.Warnw("Database ping failed, retrying", "err", err)
			return err
		}
		return nil
	}, bo); err != nil {
		db.Close()
		return nil, &Error{Op: "ping", Err: err}
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// scoped verifies the pool can still serve a live connection before an
// operation, retrying briefly so a dropped database connection heals instead
// of failing the pipeline. There is no file fallback: exhausted retries
// surface the error.
func (s *Store) scoped(ctx context.Context) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(func() error { return s.db.PingContext(ctx) }, bo); err != nil {
		return &Error{Op: "acquire connection", Err: err}
	}
	return nil
}
