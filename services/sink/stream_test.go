package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/emlakworker/internal/crawler"
	"sjsage522/emlakworker/services/publisher"
)

// MockPublisher is a mock implementation of publisher.Publisher
type MockPublisher struct {
	mu       sync.Mutex
	messages map[string][]byte
	keys     []string
	trims    int
	closed   bool
	err      error
}

var _ publisher.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, key string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.messages == nil {
		m.messages = map[string][]byte{}
	}
	m.messages[key] = message
	m.keys = append(m.keys, key)
	return nil
}

func (m *MockPublisher) TrimStreams(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trims++
	return nil
}

func (m *MockPublisher) Close() error {
	m.closed = true
	return nil
}

func TestStreamPublishesListings(t *testing.T) {
	pub := &MockPublisher{}
	s := NewStream(pub)

	require.NoError(t, s.SaveBatch(context.Background(), []*crawler.Listing{testListing("1200000001"), testListing("1200000002")}))
	assert.Equal(t, []string{"1200000001", "1200000002"}, pub.keys)
	assert.Equal(t, 1, pub.trims)

	var decoded crawler.Listing
	require.NoError(t, json.Unmarshal(pub.messages["1200000001"], &decoded))
	assert.Equal(t, "Satılık daire 1200000001", decoded.Title)
	assert.Equal(t, 150000.0, *decoded.Price)

	require.NoError(t, s.Close())
	assert.True(t, pub.closed)
}

func TestStreamPublishError(t *testing.T) {
	pub := &MockPublisher{err: errors.New("connection refused")}
	s := NewStream(pub)

	err := s.Save(context.Background(), testListing("1200000001"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
