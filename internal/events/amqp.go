package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes persistent trip events to the trips topic exchange
// with routing key trip.detected.<mode>. When confirms is set each publish
// waits for the broker ack.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	confirms <-chan amqp.Confirmation
}

// DialAMQP connects, declares the exchange and puts the channel in confirm mode.
func DialAMQP(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	log.Printf("[events] amqp exchange %q ready", Exchange)

	p := newAMQPPublisher(ch, confirms)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, confirms <-chan amqp.Confirmation) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, confirms: confirms}
}

// RoutingKey returns the routing key an event is published with.
func RoutingKey(ev TripEvent) string {
	return RoutingPrefix + string(ev.Trip.Mode)
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev TripEvent) error {
	body, err := ev.encode()
	if err != nil {
		return err
	}

	// One publish at a time keeps confirms in step with publishes.
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, Exchange, RoutingKey(ev), false, false, amqp.Publishing{
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    ev.OccurredAt,
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: amqp publish: %w", err)
	}
	if p.confirms == nil {
		return nil
	}

	select {
	case c, ok := <-p.confirms:
		if !ok {
			return errors.New("events: amqp channel closed")
		}
		if !c.Ack {
			return errors.New("events: amqp publish not acknowledged")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
