package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChannel is the pub/sub channel external dashboards subscribe to
// for a live feed of share/block/connection events.
const RedisChannel = "rxdproxy:events"

// RedisSink forwards every published Event to a Redis pub/sub channel,
// letting an external process tail the proxy's activity without
// coupling to its process.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink builds a sink against addr, pinging it once to fail
// fast on misconfiguration.
func NewRedisSink(addr, password string, db int) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventbus: connect to redis: %w", err)
	}

	return &RedisSink{client: client, channel: RedisChannel}, nil
}

// Close releases the underlying Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// Run subscribes to bus and republishes every event to Redis until ctx
// is cancelled. Run this in its own goroutine.
func (s *RedisSink) Run(ctx context.Context, bus *Bus) {
	id, events := bus.Subscribe()
	defer bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				log.Printf("⚠️ eventbus: marshal event for redis: %v", err)
				continue
			}
			if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
				log.Printf("⚠️ eventbus: publish to redis: %v", err)
			}
		}
	}
}
