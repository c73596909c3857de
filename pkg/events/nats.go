package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOptions configures a NATS publisher.
type NATSOptions struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// NATSPublisher publishes over a NATS connection.
type NATSPublisher struct {
	conn    *nats.Conn
	timeout time.Duration
	closed  atomic.Bool
}

// NewNATSPublisher connects to the server at opts.URL.
func NewNATSPublisher(opts NATSOptions) (*NATSPublisher, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Name == "" {
		opts.Name = "autopilot"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.Timeout(opts.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: conn, timeout: opts.Timeout}, nil
}

// NewNATSPublisherFromConn wraps an existing connection.
func NewNATSPublisherFromConn(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn, timeout: 5 * time.Second}
}

// Publish sends data and flushes so the event is on the wire before a
// short-lived CLI process exits.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); ok {
		return p.conn.FlushWithContext(ctx)
	}
	return p.conn.FlushTimeout(p.timeout)
}

func (p *NATSPublisher) Subscribe(_ context.Context, pattern string, handler Handler) (Subscription, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := p.conn.Subscribe(pattern, func(msg *nats.Msg) {
		handler(&Message{Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

func (p *NATSPublisher) Close() error {
	if p.closed.Swap(true) {
		return ErrClosed
	}
	p.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Subject() string {
	return s.sub.Subject
}
