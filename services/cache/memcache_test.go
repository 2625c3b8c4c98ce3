package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"
)

// This test requires a running memcached instance
// If memcached is not available, the test will be skipped
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211", "emlak_test:")

	// Test if memcached is available
	_, err := mc.client.Get("test")
	if err != nil && err != memcache.ErrCacheMiss {
		t.Skip("Memcached is not available, skipping test")
	}

	err = mc.Set("cooldown:www.sahibinden.com", []byte("30"), 2*time.Second)
	assert.NoError(t, err)

	value, err := mc.Get("cooldown:www.sahibinden.com")
	assert.NoError(t, err)
	assert.Equal(t, "30", string(value))

	err = mc.Delete("cooldown:www.sahibinden.com")
	assert.NoError(t, err)

	_, err = mc.Get("cooldown:www.sahibinden.com")
	assert.Error(t, err)
}

func TestMemcacheKeySanitizing(t *testing.T) {
	mc := NewMemcacheService("localhost:11211", "p:")

	assert.Equal(t, "p:cooldown:host", mc.key("cooldown:host"))

	spaced := mc.key("has space")
	assert.True(t, strings.HasPrefix(spaced, "p:"))
	assert.NotContains(t, spaced, " ")

	long := mc.key(strings.Repeat("a", 300))
	assert.LessOrEqual(t, len(long), maxKeyLength)
	assert.Equal(t, long, mc.key(strings.Repeat("a", 300)))
}
