package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// Connect dials the broker and keeps reconnecting in the background.
func Connect(opts Options, logger *zap.Logger) (mqtt.Client, error) {
	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.timeout()).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("MQTT connected", zap.String("broker", opts.Broker))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.timeout()) {
		return nil, fmt.Errorf("failed to connect to %s: timeout", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Broker, err)
	}
	return client, nil
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 5 * time.Second
	}
	return o.Timeout
}

// Publisher is a sampling.Sink that publishes each reading as JSON on
// <prefix>/<type>/<number>.
type Publisher struct {
	client Client
	opts   Options
	logger *zap.Logger
}

func NewPublisher(client Client, opts Options, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, opts: opts, logger: logger}
}

func (p *Publisher) Topic(r sampling.Reading) string {
	return fmt.Sprintf("%s/%s/%d", p.opts.TopicPrefix, r.Type, r.Number)
}

func (p *Publisher) Write(ctx context.Context, r sampling.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	token := p.client.Publish(p.Topic(r), p.opts.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.opts.timeout()):
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}
	return nil
}
