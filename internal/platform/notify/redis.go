package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRedisChannel = "erqueue:queue"

// RedisSink publishes events on a Redis pub/sub channel so that other
// instances can rebroadcast them to their own websocket clients.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

// RedisRelay subscribes to the channel and hands events published by other
// instances to the local sinks.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	local   []Sink
	logger  zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel, origin string, logger zerolog.Logger, local ...Sink) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  origin,
		local:   local,
		logger:  logger.With().Str("component", "redis-relay").Logger(),
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Warn().Err(err).Msg("ignoring malformed relay payload")
		return
	}
	if ev.Origin == r.origin {
		return
	}
	for _, s := range r.local {
		if err := s.Deliver(ctx, ev); err != nil {
			r.logger.Error().Err(err).Str("sink", s.Name()).Msg("relay delivery failed")
		}
	}
}
