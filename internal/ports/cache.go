package ports

import (
	"context"
	"time"
)

// Cache stores small operational values (last sync time, last cycle
// summary). A zero ttl keeps the value until it is overwritten.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
