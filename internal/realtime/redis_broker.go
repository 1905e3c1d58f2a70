package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the pub/sub channel shared by all instances.
const DefaultRedisChannel = "linkwell:relay"

// RedisBroker fans relay events out across instances over Redis pub/sub.
// A publish returns once Redis has accepted it, so publishes issued one
// after another reach every subscriber in that order.
type RedisBroker struct {
	client  *redis.Client
	channel string
	log     *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisBroker connects to url and verifies the connection with a ping.
// An empty channel selects DefaultRedisChannel.
func NewRedisBroker(ctx context.Context, url, channel string, log *zap.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisBrokerFromClient(client, channel, log), nil
}

// NewRedisBrokerFromClient wraps an existing client.
func NewRedisBrokerFromClient(client *redis.Client, channel string, log *zap.Logger) *RedisBroker {
	if log == nil {
		log = zap.NewNop()
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBroker{client: client, channel: channel, log: log}
}

// Client returns the underlying connection so other Redis users can share
// it. It is closed with the broker.
func (b *RedisBroker) Client() *redis.Client { return b.client }

// Start subscribes and waits for the subscription to be confirmed so no
// publish issued after Start returns is missed.
func (b *RedisBroker) Start(ctx context.Context, handle Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	ch := pubsub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			handle([]byte(msg.Payload))
		}
		b.log.Info("relay subscription closed", zap.String("channel", b.channel))
	}()
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub != nil {
		_ = pubsub.Close()
	}
	b.wg.Wait()
	return b.client.Close()
}
