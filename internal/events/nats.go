package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string        `yaml:"url" json:"url"`
	MaxReconnects  int           `yaml:"max_reconnects" json:"maxReconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait" json:"reconnectWait"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connectTimeout"`
}

// ConnectNATS dials NATS with reconnect handling.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	options := []nats.Option{
		nats.Name("tripdiary"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[events] nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[events] nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[events] nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}
	return nc, nil
}

// natsConn is the part of *nats.Conn the publisher needs.
type natsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSPublisher publishes trip events on trips.detected.<mode>.
type NATSPublisher struct {
	nc natsConn
}

func NewNATSPublisher(nc natsConn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Subject returns the subject an event is published on.
func Subject(ev TripEvent) string {
	return SubjectPrefix + string(ev.Trip.Mode)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev TripEvent) error {
	body, err := ev.encode()
	if err != nil {
		return err
	}
	msg := nats.NewMsg(Subject(ev))
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	msg.Header.Set("Content-Type", "application/json")
	msg.Data = body
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("events: nats publish: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("events: nats flush: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
