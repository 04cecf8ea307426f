// Package seen keeps a Redis set per support thread of the users who have
// viewed at least one message in it. Postgres view_records stay authoritative;
// this index only accelerates the "seen by" lookup and is rebuilt lazily from
// the database when a key is missing.
package seen

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Index is the Redis-backed viewer set.
type Index struct {
	client *redis.Client
	prefix string
}

func NewIndex(client *redis.Client) *Index {
	return &Index{client: client, prefix: "seen:thread:"}
}

func (ix *Index) key(threadID string) string {
	return ix.prefix + threadID
}

// Add records that viewerID has seen a message in threadID. Adding the same
// viewer twice is a no-op.
func (ix *Index) Add(ctx context.Context, threadID, viewerID string) error {
	if err := ix.client.SAdd(ctx, ix.key(threadID), viewerID).Err(); err != nil {
		return fmt.Errorf("add viewer to seen index: %w", err)
	}
	return nil
}

// Viewers returns the distinct viewers recorded for a thread. A missing key
// returns ok=false so the caller can fall back to the database and warm the
// index with Warm.
func (ix *Index) Viewers(ctx context.Context, threadID string) ([]string, bool, error) {
	key := ix.key(threadID)
	n, err := ix.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("check seen index: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	members, err := ix.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("read seen index: %w", err)
	}
	return members, true, nil
}

// Warm replaces the thread's viewer set with the given list, typically read
// from the authoritative view records.
func (ix *Index) Warm(ctx context.Context, threadID string, viewerIDs []string) error {
	key := ix.key(threadID)
	pipe := ix.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(viewerIDs) > 0 {
		args := make([]interface{}, len(viewerIDs))
		for i, id := range viewerIDs {
			args[i] = id
		}
		pipe.SAdd(ctx, key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("warm seen index: %w", err)
	}
	return nil
}
