// Package sqlstore implements the partition storage port on top of
// database/sql. The postgres and sqlite packages supply the dialect
// specific queries.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	offlinecache "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

// Queries holds one statement per storage operation. Placeholders follow
// the driver's convention.
type Queries struct {
	CreatePartitions string
	CreateEntries    string
	OpenPartition    string
	PartitionExists  string
	FetchEntry       string
	UpsertEntry      string
	DeleteEntries    string
	DeletePartition  string
	ListPartitions   string
}

func (q Queries) validate() error {
	for name, stmt := range map[string]string{
		"create partitions": q.CreatePartitions,
		"create entries":    q.CreateEntries,
		"open partition":    q.OpenPartition,
		"partition exists":  q.PartitionExists,
		"fetch entry":       q.FetchEntry,
		"upsert entry":      q.UpsertEntry,
		"delete entries":    q.DeleteEntries,
		"delete partition":  q.DeletePartition,
		"list partitions":   q.ListPartitions,
	} {
		if stmt == "" {
			return caches.ValidationError{Reason: "missing query: " + name}
		}
	}
	return nil
}

// Store keeps partitions in two tables, one row per partition and one row
// per stored response. It is safe for concurrent use.
type Store struct {
	db *sql.DB
	q  Queries

	now func() time.Time
}

// New verifies the database connection and creates the tables.
func New(ctx context.Context, db *sql.DB, q Queries) (*Store, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil database"}
	}
	if err := q.validate(); err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	for _, stmt := range []string{q.CreatePartitions, q.CreateEntries} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	return &Store{db: db, q: q, now: time.Now}, nil
}

func (s *Store) Open(ctx context.Context, partition string) error {
	_, err := s.db.ExecContext(ctx, s.q.OpenPartition, partition, s.now().UTC().UnixNano())
	return err
}

// Match returns the stored item, caches.ErrNoCacheItem when the partition
// has no such key and caches.ErrNoPartition when the partition is unknown.
func (s *Store) Match(ctx context.Context, partition, key string) (*offlinecache.CacheItem, error) {
	var response []byte
	var storedAt int64
	err := s.db.QueryRowContext(ctx, s.q.FetchEntry, partition, key).Scan(&response, &storedAt)
	if err == nil {
		return &offlinecache.CacheItem{
			Key:      key,
			Response: response,
			StoredAt: time.Unix(0, storedAt).UTC(),
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	exists, err := s.exists(ctx, partition)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, caches.ErrNoPartition
	}
	return nil, caches.ErrNoCacheItem
}

// Put opens the partition if needed and replaces any previous entry for
// the key.
func (s *Store) Put(ctx context.Context, partition string, item *offlinecache.CacheItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, s.q.OpenPartition, partition, s.now().UTC().UnixNano()); err != nil {
		return err
	}

	storedAt := item.StoredAt
	if storedAt.IsZero() {
		storedAt = s.now()
	}
	if _, err := tx.ExecContext(ctx, s.q.UpsertEntry, partition, item.Key, item.Response, storedAt.UTC().UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, partition string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, s.q.DeleteEntries, partition); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, s.q.DeletePartition, partition)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// Keys lists partitions in creation order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q.ListPartitions)
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

func (s *Store) exists(ctx context.Context, partition string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q.PartitionExists, partition).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// WithClock replaces the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

var _ offlinecache.Storage = (*Store)(nil)
