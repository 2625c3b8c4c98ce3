package publisher

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher implements Publisher using Redis streams. Messages for the
// same key always land on the same shard so consumers see them in order.
type RedisPublisher struct {
	client          *redis.Client
	streamPrefix    string
	streamCount     int
	streamMaxLength int64
}

// NewRedisPublisher creates a new Redis publisher and checks the connection
func NewRedisPublisher(ctx context.Context, addr string, db int, streamPrefix string, streamCount int, streamMaxLength int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	if streamCount < 1 {
		streamCount = 1
	}

	return &RedisPublisher{
		client:          client,
		streamPrefix:    streamPrefix,
		streamCount:     streamCount,
		streamMaxLength: int64(streamMaxLength),
	}, nil
}

// StreamFor returns the shard stream name for key
func (p *RedisPublisher) StreamFor(key string) string {
	return StreamName(p.streamPrefix, p.streamCount, key)
}

// StreamName maps key onto one of count shards named prefix:0 .. prefix:count-1
func StreamName(prefix string, count int, key string) string {
	if count <= 1 {
		return prefix + ":0"
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return prefix + ":" + strconv.Itoa(int(h.Sum32()%uint32(count)))
}

// Publish appends the message to the key's shard, trimming approximately to the max length
func (p *RedisPublisher) Publish(ctx context.Context, key string, message []byte) error {
	args := &redis.XAddArgs{
		Stream: p.StreamFor(key),
		Values: map[string]interface{}{
			"key":  key,
			"data": string(message),
		},
	}
	if p.streamMaxLength > 0 {
		args.MaxLen = p.streamMaxLength
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}

// TrimStreams trims all shards to the configured maximum length
func (p *RedisPublisher) TrimStreams(ctx context.Context) error {
	if p.streamMaxLength <= 0 {
		return nil
	}
	for i := 0; i < p.streamCount; i++ {
		stream := p.streamPrefix + ":" + strconv.Itoa(i)
		if err := p.client.XTrimMaxLen(ctx, stream, p.streamMaxLength).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
