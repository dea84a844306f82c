package publish

import (
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
)

const (
	DefaultRedisStream  = "pulsectl:snapshots"
	DefaultRedisMaxLen  = 10000
	DefaultMQTTTopic    = "pulsectl/snapshot"
	DefaultMQTTClientID = "pulsectl"
	DefaultQueueSize    = 16
	DefaultTimeout      = 2 * time.Second
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
}

type Config struct {
	Redis     RedisConfig
	MQTT      MQTTConfig
	QueueSize int
	Timeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: DefaultRedisStream,
			MaxLen: DefaultRedisMaxLen,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: DefaultMQTTClientID,
			Topic:    DefaultMQTTTopic,
		},
		QueueSize: DefaultQueueSize,
		Timeout:   DefaultTimeout,
	}
}

// Enabled reports whether any sink is switched on.
func (c Config) Enabled() bool {
	return c.Redis.Enabled || c.MQTT.Enabled
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Stream == "") {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "redis sink needs addr and stream")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.Topic == "") {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "mqtt sink needs broker and topic")
	}
	if c.MQTT.QoS > 2 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			QoS byte
		}{c.MQTT.QoS})
	}
	return nil
}
