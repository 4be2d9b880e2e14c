// Package store provides a persistence layer over the legacy subscriber
// tables and the unified users table, handling placeholder rebinding,
// chunked iteration, and event logging.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lherron/subsync/internal/db"
	"github.com/lherron/subsync/internal/events"
)

// Store is the root store that provides access to table-specific stores.
type Store struct {
	db *db.DB

	// Table-specific stores
	Subscribers   *SubscriberStore
	SubscriberSMS *SubscriberSMSStore
	Clients       *ClientStore
	Users         *UserStore
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	s := &Store{db: database}
	s.Subscribers = &SubscriberStore{store: s}
	s.SubscriberSMS = &SubscriberSMSStore{store: s}
	s.Clients = &ClientStore{store: s}
	s.Users = &UserStore{store: s}
	return s
}

// DB returns the underlying database connection (for read-only queries).
func (s *Store) DB() *db.DB {
	return s.db
}

// withTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx, ew *events.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ew := events.NewWriter(s.db)
	if err := fn(tx, ew); err != nil {
		return err
	}

	return tx.Commit()
}

// queryRow runs a rebound single-row query
func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.db.Rebind(query), args...)
}

// exists reports whether query returns at least one row
func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.queryRow(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// iterate walks a table in ascending id order using keyset pagination.
// Each chunk is read fully and its rows closed before fn is called, so fn
// may write to the database.
func iterate[T any](ctx context.Context, s *Store, query string, chunkSize int, scan func(*sql.Rows) (T, int64, error), fn func(T) error) error {
	if chunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1, got %d", chunkSize)
	}

	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := readChunk(ctx, s, query, lastID, chunkSize, scan)
		if err != nil {
			return err
		}
		if len(chunk.items) == 0 {
			return nil
		}

		for _, item := range chunk.items {
			if err := fn(item); err != nil {
				return err
			}
		}

		if len(chunk.items) < chunkSize {
			return nil
		}
		lastID = chunk.lastID
	}
}

type chunkResult[T any] struct {
	items  []T
	lastID int64
}

func readChunk[T any](ctx context.Context, s *Store, query string, afterID int64, limit int, scan func(*sql.Rows) (T, int64, error)) (chunkResult[T], error) {
	var out chunkResult[T]

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), afterID, limit)
	if err != nil {
		return out, fmt.Errorf("failed to query chunk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, id, err := scan(rows)
		if err != nil {
			return out, fmt.Errorf("failed to scan row: %w", err)
		}
		out.items = append(out.items, item)
		out.lastID = id
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}
