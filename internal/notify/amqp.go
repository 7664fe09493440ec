package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kilupskalvis/listings/internal/listing"
	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher is the part of *amqp.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig locates the broker and the destination of events.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	// DialAttempts bounds connection retries at startup. Default 5.
	DialAttempts int
}

// AMQPNotifier publishes events as persistent JSON messages to a topic
// exchange.
type AMQPNotifier struct {
	conn       *amqp.Connection
	channel    publisher
	exchange   string
	routingKey string
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// DialAMQP connects to the broker, declares the exchange and returns a
// notifier publishing to it. Returns nil, nil when no URL is configured.
func DialAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 5
	}

	conn, err := dialWithRetry(cfg.URL, cfg.DialAttempts, logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	n := newAMQPNotifier(ch, cfg.Exchange, cfg.RoutingKey, logger)
	n.conn = conn
	logger.Info("amqp notifier connected", "exchange", cfg.Exchange, "routing_key", cfg.RoutingKey)
	return n, nil
}

func newAMQPNotifier(ch publisher, exchange, routingKey string, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		timeout:    5 * time.Second,
		logger:     logger,
	}
}

func dialWithRetry(url string, attempts int, logger *slog.Logger) (*amqp.Connection, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		wait := time.Duration(math.Pow(2, float64(i))) * time.Second
		logger.Warn("amqp dial failed, retrying", "attempt", i+1, "wait", wait, "error", err)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("connect to amqp broker: %w", lastErr)
}

// Notify publishes the event in the background.
func (n *AMQPNotifier) Notify(_ context.Context, e listing.Event) {
	if n == nil {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("amqp: marshal event", "error", err)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.publish(e, body); err != nil {
			n.logger.Warn("amqp: publish failed", "event", e.Type, "house_id", e.HouseID, "error", err)
			return
		}
		n.logger.Debug("amqp: published", "event", e.Type, "house_id", e.HouseID)
	}()
}

func (n *AMQPNotifier) publish(e listing.Event, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	return n.channel.PublishWithContext(ctx,
		n.exchange,
		n.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         string(e.Type),
			Body:         body,
			Timestamp:    time.Unix(0, int64(e.Timestamp)).UTC(),
			DeliveryMode: amqp.Persistent,
		},
	)
}

// Close waits for pending publishes and closes the connection.
func (n *AMQPNotifier) Close() error {
	if n == nil {
		return nil
	}
	n.wg.Wait()
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
