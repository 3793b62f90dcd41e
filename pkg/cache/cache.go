package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service defines cache operations interface.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Key joins parts into a cache key with the conventional ":" separator.
func Key(parts ...interface{}) string {
	key := ""
	for i, part := range parts {
		if i == 0 {
			key = fmt.Sprintf("%v", part)
			continue
		}
		key = fmt.Sprintf("%s:%v", key, part)
	}
	return key
}
