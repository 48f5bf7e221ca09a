package store

import "github.com/redis/go-redis/v9"

// NewForTest wraps an already-constructed redis client as a Store, for
// packages that need a Store backed by miniredis without going through
// New's URL-parsing and connection-pool setup.
func NewForTest(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}
