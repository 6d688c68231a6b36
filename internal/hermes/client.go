package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// QueueGroup spreads inbound CRM events across verdict replicas so each
// closed conversation is processed by one instance.
const QueueGroup = "verdict"

const closeFlushTimeout = 2 * time.Second

// Client publishes verdict events and feeds inbound CRM events to handlers.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewClient connects to NATS, retrying in the background when the server is
// not yet reachable. A ctx already done aborts before dialing.
func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	opts := []nats.Option{
		nats.Name("verdict"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected, events will be buffered", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// Publish sends data as JSON on subject.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe joins QueueGroup on subject. A panicking handler is logged and
// the subscription keeps running.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.QueueSubscribe(subject, QueueGroup, guard(c.logger, handler))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject, "queue", QueueGroup)
	return nil
}

func guard(logger *slog.Logger, handler func(subject string, data []byte)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("event handler panicked", "subject", msg.Subject, "panic", fmt.Sprint(r))
			}
		}()
		handler(msg.Subject, msg.Data)
	}
}

// Close flushes pending publishes, then unsubscribes and closes.
func (c *Client) Close() {
	if err := c.conn.FlushTimeout(closeFlushTimeout); err != nil {
		c.logger.Warn("nats flush on close failed", "error", err)
	}
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
