// Package bus relays outbound frames between application instances over
// Redis pub/sub, so a broadcast reaches room members whose sockets live on
// other processes. Without it (in-memory mode) delivery is instance-local.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/soundloop/collab/pkg/config"
)

type Kind string

const (
	KindBoard Kind = "board"
	KindUser  Kind = "user"
)

// Message is one relayed frame. Origin carries the publishing instance's
// id so a subscriber can skip its own publications instead of delivering
// them twice.
type Message struct {
	Origin string `json:"origin"`
	Kind   Kind   `json:"kind"`
	Key    string `json:"key"`
	Frame  []byte `json:"frame"`
}

type Bus struct {
	rdb    *redis.Client
	origin string
	logger *slog.Logger
}

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	probeCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := rdb.Ping(probeCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Bus{
		rdb:    rdb,
		origin: uuid.NewString(),
		logger: logger.With(slog.String("component", "bus")),
	}, nil
}

func channel(kind Kind, key string) string {
	return "collab:" + string(kind) + ":" + key
}

// PublishBoard relays a board-room frame to other instances.
func (b *Bus) PublishBoard(ctx context.Context, boardID string, frame []byte) {
	b.publish(ctx, Message{Origin: b.origin, Kind: KindBoard, Key: boardID, Frame: frame})
}

// PublishUser relays a per-user frame to other instances.
func (b *Bus) PublishUser(ctx context.Context, userID string, frame []byte) {
	b.publish(ctx, Message{Origin: b.origin, Kind: KindUser, Key: userID, Frame: frame})
}

func (b *Bus) publish(ctx context.Context, m Message) {
	raw, err := json.Marshal(m)
	if err != nil {
		b.logger.Warn("Failed to marshal bus message", slog.Any("error", err))
		return
	}
	if err := b.rdb.Publish(ctx, channel(m.Kind, m.Key), raw).Err(); err != nil {
		b.logger.Warn("Failed to publish bus message", slog.Any("error", err))
	}
}

// Subscribe listens to every collab channel and invokes fn for each frame
// published by another instance. It blocks until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, fn func(Message)) {
	pubsub := b.rdb.PSubscribe(ctx, channel(KindBoard, "*"), channel(KindUser, "*"))
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.logger.Warn("Dropping malformed bus message", slog.Any("error", err))
				continue
			}
			if m.Origin == b.origin || m.Key == "" {
				continue
			}
			fn(m)
		}
	}
}

// Close shuts down the Redis connection.
func (b *Bus) Close() { _ = b.rdb.Close() }
