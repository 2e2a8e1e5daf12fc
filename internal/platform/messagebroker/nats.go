package messagebroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is a received NATS message.
type Message interface {
	Subject() string
	Data() []byte
}

// Subscription is an active NATS subscription.
type Subscription interface {
	Unsubscribe() error
}

// NATSClient is the broker surface used by services. Tests substitute a testify mock.
type NATSClient interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject, queueGroup string, handler func(msg Message)) (Subscription, error)
	Close()
}

type natsMessage struct{ msg *nats.Msg }

func (m natsMessage) Subject() string { return m.msg.Subject }
func (m natsMessage) Data() []byte    { return m.msg.Data }

// Client wraps a core NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

var _ NATSClient = (*Client)(nil)

// NewNATSClient connects to NATS with infinite reconnects.
// natsURL example: "nats://localhost:4222"
func NewNATSClient(natsURL string, logger *slog.Logger, appName string) (*Client, error) {
	log := logger.With("component", "nats_client")
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			log.Info("NATS connection closed", "last_error", c.LastError())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return &Client{conn: nc, logger: log}, nil
}

// Publish sends data on subject. The context is checked before publishing;
// core NATS publishes are fire-and-forget once buffered.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler on subject, using a queue group when one is given.
func (c *Client) Subscribe(ctx context.Context, subject, queueGroup string, handler func(msg Message)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cb := func(m *nats.Msg) { handler(natsMessage{msg: m}) }

	var (
		sub *nats.Subscription
		err error
	)
	if queueGroup != "" {
		sub, err = c.conn.QueueSubscribe(subject, queueGroup, cb)
	} else {
		sub, err = c.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	c.logger.InfoContext(ctx, "Subscribed", "subject", subject, "queue_group", queueGroup)
	return sub, nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() {
	if c.conn == nil || c.conn.IsClosed() {
		return
	}
	if err := c.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		c.logger.Warn("NATS drain failed", "error", err)
		c.conn.Close()
	}
}
