// Package events publishes game events to RabbitMQ. Publishing is best
// effort: Notify only enqueues, a background goroutine talks to the broker,
// and events that cannot be delivered are logged and dropped.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tycoon/internal/game"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ game.Notifier = (*AMQPPublisher)(nil)

var (
	ErrBufferFull      = errors.New("event buffer full")
	ErrPublisherClosed = errors.New("event publisher closed")
)

// Queues declared on connect, one per event type.
var Queues = []string{game.EventProgressSaved, game.EventPlayerReturned}

type Options struct {
	BufferSize     int
	DialTimeout    time.Duration
	PublishTimeout time.Duration
	// RetryDelay is how long events are dropped after a failed connect
	// before the broker is tried again.
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		BufferSize:     256,
		DialTimeout:    2 * time.Second,
		PublishTimeout: 5 * time.Second,
		RetryDelay:     5 * time.Second,
	}
}

type message struct {
	typ  string
	at   time.Time
	body []byte
}

type AMQPPublisher struct {
	url  string
	log  *slog.Logger
	opts Options

	queue     chan message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Int64

	// Owned by the run goroutine.
	conn    *amqp.Connection
	ch      *amqp.Channel
	retryAt time.Time
}

func NewAMQPPublisher(url string, logger *slog.Logger) *AMQPPublisher {
	return NewAMQPPublisherWithOptions(url, logger, DefaultOptions())
}

func NewAMQPPublisherWithOptions(url string, logger *slog.Logger, opts Options) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = def.PublishTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	p := &AMQPPublisher{
		url:   url,
		log:   logger,
		opts:  opts,
		queue: make(chan message, opts.BufferSize),
		done:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Notify queues ev for delivery and never waits on the broker.
func (p *AMQPPublisher) Notify(_ context.Context, ev game.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.queue <- message{typ: ev.Type, at: ev.At, body: body}:
		return nil
	default:
		p.dropped.Add(1)
		return ErrBufferFull
	}
}

// Dropped counts events that were never handed to the broker.
func (p *AMQPPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops the delivery goroutine. Events still buffered are dropped.
func (p *AMQPPublisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.closeConn()
	})
	return nil
}

func (p *AMQPPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.queue:
			if err := p.publish(msg); err != nil {
				p.dropped.Add(1)
				p.log.Warn("publish event failed", "type", msg.typ, "err", err)
			}
		}
	}
}

func (p *AMQPPublisher) publish(msg message) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.PublishTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", msg.typ, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    msg.at,
		Type:         msg.typ,
		Body:         msg.body,
	})
	if err != nil {
		// Drop the channel so the next publish reconnects.
		p.closeConn()
		return fmt.Errorf("publish %s: %w", msg.typ, err)
	}
	return nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.closeConn()
	if time.Now().Before(p.retryAt) {
		return nil, fmt.Errorf("rabbitmq unavailable, retrying after %s", p.retryAt.Format(time.RFC3339))
	}

	ch, err := p.connect()
	if err != nil {
		p.retryAt = time.Now().Add(p.opts.RetryDelay)
		return nil, err
	}
	p.retryAt = time.Time{}
	p.log.Info("rabbitmq publisher connected", "queues", Queues)
	return ch, nil
}

func (p *AMQPPublisher) connect() (*amqp.Channel, error) {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(p.opts.DialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq declare %s: %w", q, err)
		}
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) closeConn() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
