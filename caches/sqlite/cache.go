package sqlite

import (
	"context"
	"database/sql"
	_ "embed"

	_ "modernc.org/sqlite"

	"github.com/dgduncan/go-offline-cache/caches/sqlstore"
)

var (
	//go:embed create_partitions.sql
	queryCreatePartitions string
	//go:embed create_entries.sql
	queryCreateEntries string
	//go:embed open_partition.sql
	queryOpenPartition string
	//go:embed partition_exists.sql
	queryPartitionExists string
	//go:embed fetch_entry.sql
	queryFetchEntry string
	//go:embed upsert_entry.sql
	queryUpsertEntry string
	//go:embed delete_entries.sql
	queryDeleteEntries string
	//go:embed delete_partition.sql
	queryDeletePartition string
	//go:embed list_partitions.sql
	queryListPartitions string
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Queries returns the SQLite statements of the partition store.
func Queries() sqlstore.Queries {
	return sqlstore.Queries{
		CreatePartitions: queryCreatePartitions,
		CreateEntries:    queryCreateEntries,
		OpenPartition:    queryOpenPartition,
		PartitionExists:  queryPartitionExists,
		FetchEntry:       queryFetchEntry,
		UpsertEntry:      queryUpsertEntry,
		DeleteEntries:    queryDeleteEntries,
		DeletePartition:  queryDeletePartition,
		ListPartitions:   queryListPartitions,
	}
}

// New creates a SQLite backed partition store. It verifies the
// database connection and creates the necessary tables.
func New(ctx context.Context, db *sql.DB) (*sqlstore.Store, error) {
	return sqlstore.New(ctx, db, Queries())
}

// Open connects to dsn, eg. file:offline.db or :memory:,
// and creates the store.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, *sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, nil, err
	}
	// One writer at a time, and a single connection keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db, nil
}
