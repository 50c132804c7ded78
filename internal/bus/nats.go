package bus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds the NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns settings suitable for a local bus: infinite
// reconnects so a detector or server restart never strands the aggregator.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "flockwatch-aggregator",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSConn implements Conn over a NATS connection.
type NATSConn struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// ConnectNATS connects to the bus. onStatus, if non-nil, is invoked with
// false on disconnect and true on connect/reconnect; NATS resubscribes
// automatically after a reconnect, so subscriptions survive.
func ConnectNATS(cfg NATSConfig, logger *slog.Logger, onStatus func(connected bool)) (*NATSConn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Bus disconnected", "error", err)
			if onStatus != nil {
				onStatus(false)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Bus reconnected", "url", c.ConnectedUrl())
			if onStatus != nil {
				onStatus(true)
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("Bus connection closed")
			if onStatus != nil {
				onStatus(false)
			}
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to bus at %s: %w", cfg.URL, err)
	}

	logger.Info("Connected to bus", "url", cfg.URL, "name", cfg.Name)
	if onStatus != nil {
		onStatus(true)
	}

	return &NATSConn{nc: nc, logger: logger}, nil
}

// Publish sends data on a subject.
func (c *NATSConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

// Subscribe delivers every message on subject to fn. NATS dispatches each
// subscription's handler from a single goroutine, which gives the per-topic
// FIFO the merge loop relies on.
func (c *NATSConn) Subscribe(subject string, fn Handler) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// QueueSubscribe delivers each message on subject to one member of queue.
func (c *NATSConn) QueueSubscribe(subject, queue string, fn Handler) (Subscription, error) {
	sub, err := c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %s (%s): %w", subject, queue, err)
	}
	return sub, nil
}

// Drain flushes in-flight messages and closes the connection.
func (c *NATSConn) Drain() error {
	return c.nc.Drain()
}

// Close closes the connection immediately.
func (c *NATSConn) Close() {
	c.nc.Close()
}

// IsConnected reports whether the connection is currently up.
func (c *NATSConn) IsConnected() bool {
	return c.nc.IsConnected()
}
