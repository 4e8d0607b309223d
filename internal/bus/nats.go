package bus

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/observability"
	"github.com/nats-io/nats.go"
)

const transportNATS = "nats"

type NATSOptions struct {
	Name          string
	Prefix        string
	ReconnectWait time.Duration
	MaxReconnects int
}

func DefaultNATSOptions(name string) NATSOptions {
	return NATSOptions{
		Name:          name,
		Prefix:        "tagctl",
		ReconnectWait: 500 * time.Millisecond,
		MaxReconnects: 20,
	}
}

// NATSClient maps topics onto subjects "<prefix>.<topic>". A single wildcard
// subscription per client keeps arrival order across topics.
type NATSClient struct {
	nc     *nats.Conn
	prefix string
	r      *router

	mu       sync.Mutex
	wildcard *nats.Subscription
	closed   bool
}

func DialNATS(url string, opts NATSOptions) (*NATSClient, error) {
	if opts.Prefix == "" {
		opts.Prefix = "tagctl"
	}
	logger := logging.Component("bus.nats").With().Str("client", opts.Name).Logger()
	nc, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("bus.NATSClient disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: nats connect %s: %w", url, err)
	}
	return &NATSClient{
		nc:     nc,
		prefix: opts.Prefix,
		r:      newRouter(transportNATS, opts.Name, logger),
	}, nil
}

func (c *NATSClient) subject(topic string) string {
	return c.prefix + "." + topic
}

func (c *NATSClient) Publish(topic string, payload []byte) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if err := c.nc.Publish(c.subject(topic), payload); err != nil {
		if err == nats.ErrConnectionClosed {
			return ErrClosed
		}
		return fmt.Errorf("bus: nats publish %s: %w", topic, err)
	}
	observability.RecordBusPublish(transportNATS, topic)
	return nil
}

func (c *NATSClient) Subscribe(topic string, h Handler) (Subscription, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	if err := c.ensureWildcard(); err != nil {
		return nil, err
	}
	s, _ := c.r.add(topic, h, func(s *subscription) error {
		c.r.remove(s)
		return nil
	})
	return s, nil
}

func (c *NATSClient) ensureWildcard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.wildcard != nil {
		return nil
	}
	lead := c.prefix + "."
	sub, err := c.nc.Subscribe(lead+">", func(m *nats.Msg) {
		topic := strings.TrimPrefix(m.Subject, lead)
		if c.r.wants(topic) {
			c.r.enqueue(topic, m.Data)
		}
	})
	if err != nil {
		return fmt.Errorf("bus: nats subscribe: %w", err)
	}
	// Make the interest visible to the server before the first publish.
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("bus: nats flush: %w", err)
	}
	c.wildcard = sub
	return nil
}

// Close drains the connection and waits for in-flight handlers. It must not
// be called from one of this client's handlers.
func (c *NATSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.nc.Flush()
	c.nc.Close()
	c.r.close()
	if err != nil && err != nats.ErrConnectionClosed {
		return err
	}
	return nil
}
