package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay kinds.
const (
	relayBroadcast = "broadcast"
	relayEnd       = "end"
)

// RelayMessage is a room broadcast shared between gateway instances.
type RelayMessage struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"sessionId"`
	Kind      string          `json:"kind"`
	Exclude   string          `json:"exclude,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Relay shares room traffic with the other gateway instances behind the same load balancer.
type Relay interface {
	Publish(ctx context.Context, m RelayMessage) error
	// Subscribe calls handle for every message published by another instance until ctx is done.
	Subscribe(ctx context.Context, handle func(RelayMessage)) error
	Close() error
}

// RedisRelay publishes room traffic on one Redis channel per session (prefix + session id).
type RedisRelay struct {
	client     *redis.Client
	prefix     string
	instanceID string
	log        *zap.Logger
}

func NewRedisRelay(client *redis.Client, prefix, instanceID string, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{client: client, prefix: prefix, instanceID: instanceID, log: log}
}

// Channel returns the Redis channel for sessionID.
func (r *RedisRelay) Channel(sessionID string) string { return r.prefix + sessionID }

func (r *RedisRelay) Publish(ctx context.Context, m RelayMessage) error {
	m.Origin = r.instanceID
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("relay: encode: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(m.SessionID), b).Err(); err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, handle func(RelayMessage)) error {
	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			m, ok := r.decode(msg.Payload)
			if !ok {
				continue
			}
			handle(m)
		}
	}
}

// decode parses a relayed message. Messages from this instance and malformed ones are skipped.
func (r *RedisRelay) decode(payload string) (RelayMessage, bool) {
	var m RelayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.log.Warn("relay: malformed message", zap.Error(err))
		return m, false
	}
	if m.Origin == r.instanceID || m.SessionID == "" {
		return m, false
	}
	return m, true
}

func (r *RedisRelay) Close() error { return r.client.Close() }
