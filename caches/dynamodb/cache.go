package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	offlinecache "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
)

const (
	attrPartition = "partition"
	attrKey       = "key"

	// registryPartition holds one item per partition so that partitions
	// can be listed without a table scan.
	registryPartition = "#partitions"

	// batchWriteLimit is the DynamoDB maximum of requests per BatchWriteItem.
	batchWriteLimit = 25

	// maxBatchAttempts bounds the BatchWriteItem calls made for one chunk
	// while DynamoDB keeps returning unprocessed items.
	maxBatchAttempts = 8

	maxBatchBackoff = 2 * time.Second
)

// ErrUnprocessedItems is returned when DynamoDB still reports unprocessed
// deletes after maxBatchAttempts calls.
var ErrUnprocessedItems = errors.New("dynamodb: unprocessed items")

// API is the subset of the DynamoDB client the cache uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Config defines the configuration options for the DynamoDB cache implementation.
type Config struct {
	// Table must have a string hash key "partition" and a string range key "key".
	Table string
}

// Cache implements offlinecache.Storage using Amazon DynamoDB as the
// storage backend. Entries of a partition share its hash key.
type Cache struct {
	client API

	table   string
	now     func() time.Time
	backoff retry.BackoffDelayer
}

type entryItem struct {
	Partition string `dynamodbav:"partition"`
	Key       string `dynamodbav:"key"`
	Response  []byte `dynamodbav:"response"`
	StoredAt  int64  `dynamodbav:"stored_at"`
}

type partitionItem struct {
	Partition string `dynamodbav:"partition"`
	Key       string `dynamodbav:"key"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

// Open registers the partition. An existing registration keeps its
// creation time.
func (c *Cache) Open(ctx context.Context, partition string) error {
	av, err := attributevalue.MarshalMap(partitionItem{
		Partition: registryPartition,
		Key:       partition,
		CreatedAt: c.now().UTC().UnixNano(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
		},
	})
	var exists *types.ConditionalCheckFailedException
	if errors.As(err, &exists) {
		return nil
	}
	return err
}

// Match retrieves a stored response by partition and key.
func (c *Cache) Match(ctx context.Context, partition, key string) (*offlinecache.CacheItem, error) {
	item, err := c.get(ctx, partition, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		registered, err := c.get(ctx, registryPartition, partition)
		if err != nil {
			return nil, err
		}
		if registered == nil {
			return nil, caches.ErrNoPartition
		}
		return nil, caches.ErrNoCacheItem
	}

	var entry entryItem
	if err := attributevalue.UnmarshalMap(item, &entry); err != nil {
		return nil, err
	}
	return &offlinecache.CacheItem{
		Key:      entry.Key,
		Response: entry.Response,
		StoredAt: time.Unix(0, entry.StoredAt).UTC(),
	}, nil
}

// Put registers the partition if needed and writes the entry, replacing
// any previous one.
func (c *Cache) Put(ctx context.Context, partition string, v *offlinecache.CacheItem) error {
	if err := c.Open(ctx, partition); err != nil {
		return err
	}

	storedAt := v.StoredAt
	if storedAt.IsZero() {
		storedAt = c.now()
	}
	av, err := attributevalue.MarshalMap(entryItem{
		Partition: partition,
		Key:       v.Key,
		Response:  v.Response,
		StoredAt:  storedAt.UTC().UnixNano(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	return err
}

// Delete removes every entry of the partition, then its registration.
func (c *Cache) Delete(ctx context.Context, partition string) (bool, error) {
	registered, err := c.get(ctx, registryPartition, partition)
	if err != nil {
		return false, err
	}

	keys, err := c.queryKeys(ctx, partition)
	if err != nil {
		return false, err
	}
	for chunk := range slices.Chunk(keys, batchWriteLimit) {
		if err := c.deleteBatch(ctx, partition, chunk); err != nil {
			return false, err
		}
	}

	if registered == nil {
		return false, nil
	}
	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       primaryKey(registryPartition, partition),
	})
	return err == nil, err
}

// Keys lists registered partitions in creation order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	var registered []partitionItem
	p := dynamodb.NewQueryPaginator(c.client, c.partitionQuery(registryPartition))
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var page []partitionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		registered = append(registered, page...)
	}

	sort.SliceStable(registered, func(i, j int) bool {
		return registered[i].CreatedAt < registered[j].CreatedAt
	})
	names := make([]string, 0, len(registered))
	for _, r := range registered {
		names = append(names, r.Key)
	}
	return names, nil
}

func (c *Cache) get(ctx context.Context, partition, key string) (map[string]types.AttributeValue, error) {
	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            primaryKey(partition, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return output.Item, nil
}

func (c *Cache) queryKeys(ctx context.Context, partition string) ([]string, error) {
	in := c.partitionQuery(partition)
	in.ProjectionExpression = aws.String("#k")
	in.ExpressionAttributeNames["#k"] = attrKey

	var keys []string
	p := dynamodb.NewQueryPaginator(c.client, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			var k string
			if err := attributevalue.Unmarshal(item[attrKey], &k); err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (c *Cache) partitionQuery(partition string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("#p = :p"),
		ExpressionAttributeNames: map[string]string{
			"#p": attrPartition,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: partition},
		},
		ConsistentRead: aws.Bool(true),
	}
}

func (c *Cache) deleteBatch(ctx context.Context, partition string, keys []string) error {
	reqs := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		reqs = append(reqs, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: primaryKey(partition, k)},
		})
	}

	pending := map[string][]types.WriteRequest{c.table: reqs}
	for attempt := 1; ; attempt++ {
		out, err := c.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems
		left := len(pending[c.table])
		if left == 0 {
			return nil
		}
		if attempt >= maxBatchAttempts {
			return fmt.Errorf("%w: %d left in %s after %d attempts", ErrUnprocessedItems, left, partition, attempt)
		}

		delay, err := c.backoff.BackoffDelay(attempt, nil)
		if err != nil {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func primaryKey(partition, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberS{Value: partition},
		attrKey:       &types.AttributeValueMemberS{Value: key},
	}
}

// New creates a new DynamoDB cache instance with the provided configuration.
// Returns an error if the client is nil.
func New(_ context.Context, client API, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	table := caches.DefaultTableName
	if config != nil && config.Table != "" {
		table = config.Table
	}

	return &Cache{
		client: client,

		table:   table,
		now:     time.Now,
		backoff: retry.NewExponentialJitterBackoff(maxBatchBackoff),
	}, nil
}

var _ offlinecache.Storage = (*Cache)(nil)
