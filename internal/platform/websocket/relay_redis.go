package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by instances.
const DefaultRelayChannel = "lis:events"

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// pubSub is the part of Redis the relay needs.
type pubSub interface {
	Publish(ctx context.Context, channel, message string) error
	// Subscribe returns once the subscription is confirmed. Messages stop
	// when ctx ends or closeFn is called.
	Subscribe(ctx context.Context, channel string) (messages <-chan string, closeFn func() error, err error)
}

type redisPubSub struct {
	client *redis.Client
}

func (p redisPubSub) Publish(ctx context.Context, channel, message string) error {
	return p.client.Publish(ctx, channel, message).Err()
}

func (p redisPubSub) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	sub := p.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	in := sub.Channel()
	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range in {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close, nil
}

// RedisRelay shares events between server instances over Redis pub/sub so
// clients connected to any instance see every mutation.
type RedisRelay struct {
	bus     pubSub
	channel string
	origin  string
	logger  zerolog.Logger
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	return newRelay(redisPubSub{client: client}, channel, logger)
}

func newRelay(bus pubSub, channel string, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		bus:     bus,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With().Str("component", "event_relay").Logger(),
	}
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, payload []byte) error {
	msg, err := encodeRelayMessage(r.origin, payload)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, r.channel, msg)
}

// Run delivers events published by other instances to hub until ctx is
// cancelled.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	messages, closeFn, err := r.bus.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	defer closeFn()
	r.logger.Info().Str("channel", r.channel).Msg("event relay subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-messages:
			if !ok {
				return nil
			}
			payload, remote, err := decodeRelayMessage(r.origin, raw)
			if err != nil {
				r.logger.Warn().Err(err).Msg("decode relayed event")
				continue
			}
			if remote {
				hub.Deliver(payload)
			}
		}
	}
}

func encodeRelayMessage(origin string, payload []byte) (string, error) {
	raw, err := json.Marshal(relayEnvelope{Origin: origin, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("encode relay message: %w", err)
	}
	return string(raw), nil
}

// decodeRelayMessage unwraps a relayed event. remote is false for events
// this instance published itself, which were already delivered locally.
func decodeRelayMessage(origin, raw string) (payload []byte, remote bool, err error) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, false, err
	}
	if len(env.Payload) == 0 {
		return nil, false, fmt.Errorf("relay message has no payload")
	}
	return env.Payload, env.Origin != origin, nil
}
