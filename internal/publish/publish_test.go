package publish_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/pulsectl/internal/aggregate"
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/publish"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(hr float64) publish.Message {
	return publish.Message{
		SessionID: "3f1c9a2e-0000-4000-8000-000000000001",
		Backend:   "mock",
		Snapshot: aggregate.Snapshot{
			Timestamp:       time.UnixMilli(1_700_000_000_000),
			HeartRate:       hr,
			HeartRateSource: aggregate.SourceHRV,
			Status:          aggregate.StatusOK,
		},
	}
}

func TestRedisSinkAppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	sink, err := publish.NewRedisSink(ctx, publish.RedisConfig{
		Addr:   mr.Addr(),
		Stream: "test:snapshots",
		MaxLen: 100,
	})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Publish(ctx, testMessage(72)))
	require.NoError(t, sink.Publish(ctx, testMessage(74)))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	entries, err := client.XRange(ctx, "test:snapshots", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var got publish.Message
	require.NoError(t, json.Unmarshal([]byte(entries[1].Values["data"].(string)), &got))
	assert.Equal(t, 74.0, got.Snapshot.HeartRate)
	assert.Equal(t, "mock", got.Backend)
	assert.Equal(t, "1700000000000", entries[1].Values["timestamp"])
}

func TestRedisSinkUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := publish.NewRedisSink(ctx, publish.RedisConfig{Addr: addr})
	assert.True(t, errors.HasCode(err, errors.ErrConnection))
}

type recordingSink struct {
	mu     sync.Mutex
	got    []publish.Message
	fail   error
	closed bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, msg publish.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return s.fail
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) messages() []publish.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publish.Message(nil), s.got...)
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &recordingSink{}
	d := publish.NewDispatcher(publish.DefaultConfig(), logger.Nop(), sink)
	d.Start()

	d.Offer(testMessage(60))
	d.Offer(testMessage(61))

	require.Eventually(t, func() bool { return len(sink.messages()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close())

	published, dropped, _ := d.Stats()
	assert.Equal(t, uint64(2), published)
	assert.Zero(t, dropped)
	assert.True(t, sink.closed)
}

func TestDispatcherDropsOldestWhenFull(t *testing.T) {
	sink := &recordingSink{}
	cfg := publish.DefaultConfig()
	cfg.QueueSize = 2
	d := publish.NewDispatcher(cfg, logger.Nop(), sink)

	// Not started: everything beyond the queue size evicts older entries.
	for i := range 5 {
		d.Offer(testMessage(float64(60 + i)))
	}
	_, dropped, _ := d.Stats()
	assert.Equal(t, uint64(3), dropped)

	d.Start()
	require.Eventually(t, func() bool { return len(sink.messages()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close())

	msgs := sink.messages()
	assert.Equal(t, 63.0, msgs[0].Snapshot.HeartRate)
	assert.Equal(t, 64.0, msgs[1].Snapshot.HeartRate)
}

func TestDispatcherCountsFailures(t *testing.T) {
	sink := &recordingSink{fail: errors.New().New(errors.ErrOperationFailed)}
	d := publish.NewDispatcher(publish.DefaultConfig(), logger.Nop(), sink)
	d.Start()
	d.Offer(testMessage(60))

	require.Eventually(t, func() bool {
		_, _, failed := d.Stats()
		return failed == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close())
}

func TestOpenWithoutSinks(t *testing.T) {
	d, err := publish.Open(context.Background(), publish.DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := publish.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	d, err := publish.Open(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	require.NotNil(t, d)

	d.Offer(testMessage(70))
	require.Eventually(t, func() bool {
		published, _, _ := d.Stats()
		return published == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close())

	assert.True(t, mr.Exists(publish.DefaultRedisStream))
}

func TestConfigValidate(t *testing.T) {
	cfg := publish.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MQTT.Enabled = true
	cfg.MQTT.Topic = ""
	assert.True(t, errors.HasCode(cfg.Validate(), errors.ErrInvalidConfig))

	cfg = publish.DefaultConfig()
	cfg.MQTT.QoS = 3
	assert.Error(t, cfg.Validate())
}
