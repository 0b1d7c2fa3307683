package rabbitmq

import (
	"context"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler processes one message received on the subscription topic.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches to a Handler until the context ends.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// Consumer holds the client and topic of a single subscription.
type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
	log     *zap.Logger
}

func NewConsumer(client mqtt.Client, topic string, handler Handler, log *zap.Logger) *Consumer {
	return &Consumer{client: client, topic: topic, handler: handler, log: log}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// sensor readings are QoS1 so the broker redelivers after a reconnect
func qosFor(topic string) byte {
	if strings.HasPrefix(strings.TrimSpace(topic), "sensor/") {
		return 1
	}
	return 0
}

// ConsumeMessage subscribes to the topic and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	return consume(ctx, c.client, []string{c.topic}, func() Handler { return c.handler }, c.log)
}

// MultiConsumer shares one handler across several topic filters.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
	log     *zap.Logger
}

func NewMultiConsumer(client mqtt.Client, topics []string, handler Handler, log *zap.Logger) *MultiConsumer {
	return &MultiConsumer{client: client, topics: topics, handler: handler, log: log}
}

func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

func (m *MultiConsumer) ConsumeMessage(ctx context.Context) error {
	return consume(ctx, m.client, m.topics, func() Handler { return m.handler }, m.log)
}

func consume(ctx context.Context, client mqtt.Client, topics []string, handler func() Handler, log *zap.Logger) error {
	var subscribed []string
	for _, topic := range topics {
		topic := strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		token := client.Subscribe(topic, qosFor(topic), func(_ mqtt.Client, msg mqtt.Message) {
			h := handler()
			if h == nil {
				log.Warn("no handler set", zap.String("topic", topic))
				return
			}
			if err := h(topic, msg); err != nil {
				log.Warn("error handling message", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		})
		if token.Wait() && token.Error() != nil {
			for _, t := range subscribed {
				client.Unsubscribe(t)
			}
			return token.Error()
		}
		subscribed = append(subscribed, topic)
		log.Info("subscribed", zap.String("topic", topic))
	}

	<-ctx.Done()

	for _, topic := range subscribed {
		client.Unsubscribe(topic).Wait()
	}
	return nil
}
