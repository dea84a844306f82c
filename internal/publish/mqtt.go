package publish

import (
	"context"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttDisconnectQuiesce = 250

// MQTTSink publishes each snapshot to a topic, not retained.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

func NewMQTTSink(ctx context.Context, cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	timeout := DefaultTimeout
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}
	opts.SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, errors.New().WithData(ErrConnection, cfg.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, errors.New().Wrap(ErrConnection, err)
	}

	return newMQTTSink(client, cfg), nil
}

func newMQTTSink(client mqtt.Client, cfg MQTTConfig) *MQTTSink {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	return &MQTTSink{client: client, topic: topic, qos: cfg.QoS}
}

func (*MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ctx context.Context, msg Message) error {
	payload, err := msg.encode()
	if err != nil {
		return errors.New().Wrap(ErrEncode, err)
	}

	token := s.client.Publish(s.topic, s.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return errors.New().Wrap(ErrPublish, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return errors.New().Wrap(ErrPublish, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(mqttDisconnectQuiesce)
	return nil
}
