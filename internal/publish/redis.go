package publish

import (
	"context"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"github.com/go-redis/redis/v8"
)

// RedisSink appends snapshots to a capped Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.New().Wrap(ErrConnection, err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: cfg.MaxLen}, nil
}

func (*RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, msg Message) error {
	data, err := msg.encode()
	if err != nil {
		return errors.New().Wrap(ErrEncode, err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"data":       string(data),
			"session_id": msg.SessionID,
			"timestamp":  msg.Snapshot.Timestamp.UnixMilli(),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return errors.New().Wrap(ErrPublish, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
