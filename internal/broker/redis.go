// Package broker relays realtime publishes between service nodes over Redis Pub/Sub.
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teamsync/internal/realtime"
)

// RedisRelay implements realtime.Relay over Redis Pub/Sub. Every node
// publishes its envelopes to prefix+topic+":"+topicKey and listens on
// prefix+"*", skipping envelopes it sent itself.
type RedisRelay struct {
	rdb    *redis.Client
	nodeID string
	prefix string
	logger *zap.Logger
}

type wireEnvelope struct {
	Origin string `json:"origin"`
	realtime.Envelope
}

// NewRedisRelay connects to url (redis://...).
func NewRedisRelay(url, nodeID, prefix string, logger *zap.Logger) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{rdb: redis.NewClient(opt), nodeID: nodeID, prefix: prefix, logger: logger}, nil
}

// Ping checks connectivity.
func (b *RedisRelay) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

// Forward publishes env for other nodes. It does not wait for remote delivery.
func (b *RedisRelay) Forward(ctx context.Context, env realtime.Envelope) error {
	data, err := encode(b.nodeID, env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.rdb.Publish(ctx, b.chanName(env.Topic, env.TopicKey), data).Err()
}

// Run consumes envelopes from other nodes and hands them to deliver until ctx ends.
func (b *RedisRelay) Run(ctx context.Context, deliver func(realtime.Envelope)) error {
	ps := b.rdb.PSubscribe(ctx, b.prefix+"*")
	defer func() { _ = ps.Close() }()
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			origin, env, err := decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("relay decode", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if origin == b.nodeID {
				continue
			}
			deliver(env)
		}
	}
}

// Close releases the Redis client.
func (b *RedisRelay) Close() error { return b.rdb.Close() }

func (b *RedisRelay) chanName(topic, key string) string {
	return b.prefix + strings.ToLower(topic) + ":" + key
}

func encode(origin string, env realtime.Envelope) ([]byte, error) {
	return json.Marshal(wireEnvelope{Origin: origin, Envelope: env})
}

func decode(b []byte) (string, realtime.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return "", realtime.Envelope{}, err
	}
	return w.Origin, w.Envelope, nil
}
