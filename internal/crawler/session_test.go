package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// MockProxyProvider hands out numbered proxies and can be switched off
type MockProxyProvider struct {
	mu     sync.Mutex
	n      int
	empty  bool
	failed []string
}

var _ ProxyProvider = (*MockProxyProvider)(nil)
var _ ProxyFeedback = (*MockProxyProvider)(nil)

func (m *MockProxyProvider) NextProxy(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.empty {
		return "", errors.New("no proxy")
	}
	m.n++
	return "http://proxy-" + string(rune('a'+m.n-1)) + ":8000", nil
}

func (m *MockProxyProvider) MarkFailed(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, proxyURL)
}

func (m *MockProxyProvider) setEmpty(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.empty = v
}

func TestAcquireCreatesUpToCapacity(t *testing.T) {
	pool := NewSessionPool(nil, SessionPoolOptions{Capacity: 3})
	ctx := context.Background()

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		s, err := pool.Acquire(ctx)
		require.NoError(t, err)
		ids[s.ID] = true
	}
	assert.Len(t, ids, 3)
	assert.Equal(t, 3, pool.Stats().Live)

	// at capacity the least recently used session comes back
	s, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ids[s.ID])
	assert.Equal(t, 3, pool.Stats().Created)
}

func TestAcquireRecyclesLeastRecentlyUsed(t *testing.T) {
	pool := NewSessionPool(nil, SessionPoolOptions{Capacity: 2})
	ctx := context.Background()

	first, _ := pool.Acquire(ctx)
	time.Sleep(2 * time.Millisecond)
	second, _ := pool.Acquire(ctx)
	time.Sleep(2 * time.Millisecond)

	got, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	time.Sleep(2 * time.Millisecond)

	got, err = pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestBadSessionNeverReturned(t *testing.T) {
	proxies := &MockProxyProvider{}
	pool := NewSessionPool(proxies, SessionPoolOptions{Capacity: 2})
	ctx := context.Background()

	bad, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.MarkBad(bad)
	assert.Equal(t, HealthBad, pool.Health(bad))
	assert.Equal(t, []string{bad.ProxyURL}, proxies.failed)

	for i := 0; i < 20; i++ {
		s, err := pool.Acquire(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, bad.ID, s.ID)
	}
	assert.Equal(t, 2, pool.Stats().Live)
	assert.Equal(t, 1, pool.Stats().Evicted)
}

func TestRetireIfExhausted(t *testing.T) {
	var evicted []string
	pool := NewSessionPool(nil, SessionPoolOptions{Capacity: 1, MaxUsage: 3})
	pool.OnEvict(func(s *Session) { evicted = append(evicted, s.ID) })
	ctx := context.Background()

	s, _ := pool.Acquire(ctx)
	assert.False(t, pool.RetireIfExhausted(s))
	pool.Acquire(ctx)
	assert.False(t, pool.RetireIfExhausted(s))
	pool.Acquire(ctx)
	assert.Equal(t, 3, pool.Usage(s))
	assert.True(t, pool.RetireIfExhausted(s))
	assert.False(t, pool.RetireIfExhausted(s))
	assert.Equal(t, []string{s.ID}, evicted)

	fresh, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, fresh.ID)
	assert.Equal(t, 1, pool.Stats().Retired)
	assert.Equal(t, 0, pool.Stats().Evicted)
}

func TestExhaustedSessionIsNotRecycled(t *testing.T) {
	pool := NewSessionPool(nil, SessionPoolOptions{
		Capacity:        1,
		MaxUsage:        2,
		StarvationRetry: 5 * time.Millisecond,
		AcquireTimeout:  30 * time.Millisecond,
	})
	ctx := context.Background()

	s, err := pool.Acquire(ctx)
	require.NoError(t, err)
	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, s.ID, again.ID)

	// at the ceiling and not yet retired: nothing to hand out
	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, crawlerrors.ErrorTypeSession, crawlerrors.TypeOf(err))
	assert.Equal(t, 2, pool.Usage(s))

	require.True(t, pool.RetireIfExhausted(s))
	fresh, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, fresh.ID)
}

func TestAcquireBlocksUntilEgressReturns(t *testing.T) {
	proxies := &MockProxyProvider{empty: true}
	pool := NewSessionPool(proxies, SessionPoolOptions{
		Capacity:        2,
		StarvationRetry: 10 * time.Millisecond,
		AcquireTimeout:  time.Second,
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		proxies.setEmpty(false)
	}()

	start := time.Now()
	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, s.ProxyURL)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestAcquireStarvationIsRetryable(t *testing.T) {
	proxies := &MockProxyProvider{empty: true}
	pool := NewSessionPool(proxies, SessionPoolOptions{
		Capacity:        2,
		StarvationRetry: 5 * time.Millisecond,
		AcquireTimeout:  30 * time.Millisecond,
	})

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, crawlerrors.ErrorTypeSession, crawlerrors.TypeOf(err))
	assert.True(t, crawlerrors.IsRetryable(err))
}

func TestAcquireFallsBackToLiveSessionWhenEgressDries(t *testing.T) {
	proxies := &MockProxyProvider{}
	pool := NewSessionPool(proxies, SessionPoolOptions{Capacity: 5, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)

	proxies.setEmpty(true)
	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestAcquireCancelled(t *testing.T) {
	proxies := &MockProxyProvider{empty: true}
	pool := NewSessionPool(proxies, SessionPoolOptions{StarvationRetry: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentAcquireRespectsCapacity(t *testing.T) {
	pool := NewSessionPool(nil, SessionPoolOptions{Capacity: 4})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := pool.Acquire(ctx)
			if err != nil {
				return
			}
			if i%7 == 0 {
				pool.MarkBad(s)
			} else {
				pool.MarkGood(s)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, pool.Stats().Live, 4)
}

func TestSessionHTTPClient(t *testing.T) {
	s := newSession("")
	c1, err := s.HTTPClient(time.Second)
	require.NoError(t, err)
	c2, _ := s.HTTPClient(time.Second)
	assert.Same(t, c1, c2)
	assert.NotNil(t, c1.Jar)
}
