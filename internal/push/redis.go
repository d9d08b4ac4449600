package push

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RedisTransport subscribes over Redis pub/sub. Events are published on
// per-type channels under the topic, so topic "user:u1:jobs" pattern
// subscribes "user:u1:jobs:*" and a message on "user:u1:jobs:job.updated"
// arrives typed job.updated.
type RedisTransport struct {
	opts *redis.Options
}

// NewRedis creates a transport from client options. The options are
// reused for every Subscribe, each of which opens its own client.
func NewRedis(opts *redis.Options) *RedisTransport {
	return &RedisTransport{opts: opts}
}

// Subscribe opens a dedicated client per subscription so a broken
// pub/sub stream never poisons other channels.
func (t *RedisTransport) Subscribe(topic string, deliver func(Event), dropped func(error)) (io.Closer, error) {
	client := redis.NewClient(t.opts)
	ctx := context.Background()

	pubsub := client.PSubscribe(ctx, topic+":*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, err
	}

	closing := &atomic.Bool{}
	go func() {
		for msg := range pubsub.Channel() {
			kind := strings.TrimPrefix(msg.Channel, topic+":")
			deliver(Event{Type: EventType(kind), Topic: topic, Data: []byte(msg.Payload)})
		}
		if !closing.Load() {
			dropped(errors.New("redis pubsub stream closed"))
		}
	}()
	return &redisConn{pubsub: pubsub, client: client, closing: closing}, nil
}

type redisConn struct {
	pubsub  *redis.PubSub
	client  *redis.Client
	closing *atomic.Bool
}

func (c *redisConn) Close() error {
	c.closing.Store(true)
	err := c.pubsub.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
