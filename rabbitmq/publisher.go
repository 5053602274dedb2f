package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"warrn-service/models"

	"github.com/streadway/amqp"
)

// dialTimeout bounds broker handshakes so a reconnect cannot stall the
// publishing loop for long.
const dialTimeout = 5 * time.Second

// Routing keys for report lifecycle events on the direct exchange.
var routingKeys = map[string]string{
	models.EventReportCreated:  "report.created",
	models.EventReportClaimed:  "report.claimed",
	models.EventReportResolved: "report.resolved",
}

// Publisher fans report lifecycle events out to a RabbitMQ exchange for
// downstream consumers (dashboards, archival, analytics pipelines).
// Events are queued on a bounded buffer and published from a background
// goroutine; when the buffer is full the event is dropped, so callers
// never block on the broker.
type Publisher struct {
	mu       sync.Mutex
	amqpURL  string
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string

	events    chan models.LifecycleEvent
	done      chan struct{}
	closeOnce sync.Once
}

// NewPublisher creates a new RabbitMQ publisher instance and starts its
// publishing loop.
func NewPublisher(amqpURL, exchangeName string) (*Publisher, error) {
	p := &Publisher{
		amqpURL:  amqpURL,
		exchange: exchangeName,
		events:   make(chan models.LifecycleEvent, 256),
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	err := p.connectLocked()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	go p.run()
	return p, nil
}

// BroadcastEvent queues a lifecycle event for publishing. It never
// blocks; when the buffer is full the event is dropped and logged.
func (p *Publisher) BroadcastEvent(event models.LifecycleEvent) {
	select {
	case p.events <- event:
	default:
		log.Printf("Event buffer full, dropping %s event for report %d",
			event.Type, event.Report.ID)
	}
}

func (p *Publisher) run() {
	for {
		select {
		case <-p.done:
			return
		case event := <-p.events:
			p.publishEvent(event)
		}
	}
}

func (p *Publisher) publishEvent(event models.LifecycleEvent) {
	routingKey, ok := routingKeys[event.Type]
	if !ok {
		log.Printf("Unknown event type %q, not publishing", event.Type)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal event for report %d: %v", event.Report.ID, err)
		return
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	if err := p.publish(routingKey, publishing); err != nil {
		log.Printf("Failed to publish %s event for report %d: %v", event.Type, event.Report.ID, err)
	}
}

// Close stops the publishing loop and closes the connection and channel.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			err = channelErr
		}
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
	}
	return err
}

// IsConnected indicates whether the publisher currently has an open
// connection and channel.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil
}

func (p *Publisher) connectLocked() error {
	conn, err := amqp.DialConfig(p.amqpURL, amqp.Config{
		Dial: amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func isConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "channel/connection is not open")
}

func (p *Publisher) publish(routingKey string, publishing amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.channel == nil {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	err := p.channel.Publish(p.exchange, routingKey, false, false, publishing)
	if err != nil && isConnClosedErr(err) {
		p.closeLocked()
		if connErr := p.connectLocked(); connErr != nil {
			return fmt.Errorf("failed to publish message: %w (reconnect failed: %v)", err, connErr)
		}
		err = p.channel.Publish(p.exchange, routingKey, false, false, publishing)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}
