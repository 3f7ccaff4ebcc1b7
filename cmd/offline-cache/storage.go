package main

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	offlinecache "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
	"github.com/dgduncan/go-offline-cache/caches/dynamodb"
	"github.com/dgduncan/go-offline-cache/caches/local"
	"github.com/dgduncan/go-offline-cache/caches/postgres"
	"github.com/dgduncan/go-offline-cache/caches/sqlite"
)

const (
	backendLocal    = "local"
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
	backendDynamoDB = "dynamodb"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStorage builds the partition backend named by opts. The closer
// releases its connection.
func openStorage(ctx context.Context, opts *globalOptions) (offlinecache.Storage, io.Closer, error) {
	switch opts.backend {
	case backendLocal:
		return local.NewBasicCache(), nopCloser{}, nil

	case backendSQLite:
		dsn := opts.dsn
		if dsn == "" {
			dsn = "file:offline-cache.db"
		}
		s, db, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, db, nil

	case backendPostgres:
		if opts.dsn == "" {
			return nil, nil, fmt.Errorf("postgres backend needs --dsn")
		}
		s, db, err := postgres.Open(ctx, opts.dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, db, nil

	case backendDynamoDB:
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := awsdynamodb.NewFromConfig(cfg)
		table := opts.table
		if table == "" {
			table = caches.DefaultTableName
		}
		if err := dynamodb.CreateTable(ctx, client, table); err != nil {
			return nil, nil, fmt.Errorf("create table: %w", err)
		}
		c, err := dynamodb.New(ctx, client, &dynamodb.Config{Table: table})
		if err != nil {
			return nil, nil, err
		}
		return c, nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", opts.backend)
	}
}
