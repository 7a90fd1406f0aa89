package channel

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/config"
)

const defaultAlertExchange = "ex.prospect.alerts"

// Publisher is the part of *amqp.Channel the alert sender uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AlertSender publishes internal alerts to a RabbitMQ topic exchange. The
// recipient becomes the routing key suffix so consumers can bind per team.
type AlertSender struct {
	pub        Publisher
	exchange   string
	routingKey string
	closers    []func() error
}

type alertPayload struct {
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// NewAlertSender dials RabbitMQ and declares the alert exchange.
func NewAlertSender(cfg config.AMQPConfig) (*AlertSender, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "alert: dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "alert: open channel")
	}

	s := NewAlertSenderWithPublisher(ch, cfg)
	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, eris.Wrap(err, "alert: declare exchange")
	}
	s.closers = []func() error{ch.Close, conn.Close}
	return s, nil
}

// NewAlertSenderWithPublisher creates an AlertSender over an open channel.
func NewAlertSenderWithPublisher(pub Publisher, cfg config.AMQPConfig) *AlertSender {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = defaultAlertExchange
	}
	key := cfg.RoutingKey
	if key == "" {
		key = "alert"
	}
	return &AlertSender{pub: pub, exchange: exchange, routingKey: key}
}

// Send implements Sender.
func (s *AlertSender) Send(ctx context.Context, recipient, text string) error {
	if recipient == "" {
		return ErrMissingRecipient
	}
	body, err := json.Marshal(alertPayload{Recipient: recipient, Text: text, SentAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "alert: marshal payload")
	}

	err = s.pub.PublishWithContext(ctx, s.exchange, s.routingKey+"."+recipient, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	return eris.Wrap(err, "alert: publish")
}

// Close releases the AMQP channel and connection.
func (s *AlertSender) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
