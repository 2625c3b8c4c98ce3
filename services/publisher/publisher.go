package publisher

import "context"

// Publisher represents a service for publishing messages
type Publisher interface {
	// Publish appends a message for key to its stream
	Publish(ctx context.Context, key string, message []byte) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams(ctx context.Context) error

	// Close closes the publisher connection
	Close() error
}
