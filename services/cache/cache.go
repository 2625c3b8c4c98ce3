package cache

import (
	"time"
)

// CacheService is a shared key/value store with expiry. The crawler keeps
// host cooldown markers in it so that parallel workers honour each other's
// blocks.
type CacheService interface {
	// Get returns the stored value or an error on a miss
	Get(key string) ([]byte, error)

	// Set stores value until expiration elapses
	Set(key string, value []byte, expiration time.Duration) error

	Delete(key string) error
}
