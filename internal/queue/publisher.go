package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends login events to the broker.
type Publisher interface {
	PublishLogin(ctx context.Context, ev LoginEvent) error
}

// AMQPPublisher publishes to LoginQueueName over a lazily opened channel.
// A failed publish drops the connection so the next call redials.
type AMQPPublisher struct {
	url  string
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string) *AMQPPublisher { return &AMQPPublisher{url: url} }

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// Durable so events survive broker restarts.
	if _, err := ch.QueueDeclare(LoginQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// PublishLogin marshals ev and publishes it as a persistent message.
func (p *AMQPPublisher) PublishLogin(ctx context.Context, ev LoginEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", LoginQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// Recorder accepts events without blocking the caller.
type Recorder interface {
	Record(ev LoginEvent)
}

// AsyncPublisher buffers events and publishes them from a single worker so
// a slow or absent broker never delays a login response.  Events that do
// not fit in the buffer are dropped and logged.
type AsyncPublisher struct {
	next    Publisher
	events  chan LoginEvent
	timeout time.Duration
}

func NewAsyncPublisher(next Publisher, buffer int) *AsyncPublisher {
	if buffer < 1 {
		buffer = 1
	}
	return &AsyncPublisher{next: next, events: make(chan LoginEvent, buffer), timeout: 5 * time.Second}
}

func (a *AsyncPublisher) Record(ev LoginEvent) {
	select {
	case a.events <- ev:
	default:
		log.Printf("audit: buffer full, dropping %s event for %q", ev.Outcome, ev.Identifier)
	}
}

// Run drains the buffer until ctx is done, then flushes what is left.
func (a *AsyncPublisher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-a.events:
			a.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-a.events:
					a.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncPublisher) publish(ev LoginEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.next.PublishLogin(ctx, ev); err != nil {
		log.Printf("audit: publish failed: %v", err)
	}
}
