package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/observability"
	"github.com/danmuck/tagctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

type TCPOptions struct {
	Name        string
	DialTimeout time.Duration
	Backoff     BackoffConfig
	Limits      frame.Limits
	Rand        *rand.Rand
}

func DefaultTCPOptions(name string) TCPOptions {
	return TCPOptions{
		Name:        name,
		DialTimeout: 3 * time.Second,
		Backoff:     DefaultBackoffConfig(),
		Limits:      frame.DefaultLimits(),
	}
}

// TCPClient connects one unit to a Broker.
type TCPClient struct {
	nc     net.Conn
	limits frame.Limits
	logger zerolog.Logger
	r      *router
	seq    atomic.Uint64

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
	readDone  chan struct{}
}

// DialTCP connects to addr, retrying with exponential backoff until
// opts.Backoff.MaxAttempts is exhausted or ctx is done.
func DialTCP(ctx context.Context, addr string, opts TCPOptions) (*TCPClient, error) {
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	logger := logging.Component("bus.tcp").With().Str("client", opts.Name).Logger()

	maxAttempts := opts.Backoff.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		nc, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return newTCPClient(nc, opts, logger), nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		delay := NextBackoffDelay(opts.Backoff, attempt, opts.Rand)
		logger.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("bus.DialTCP retry")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("bus: dial %s after %d attempts: %w", addr, maxAttempts, lastErr)
}

func newTCPClient(nc net.Conn, opts TCPOptions, logger zerolog.Logger) *TCPClient {
	c := &TCPClient{
		nc:       nc,
		limits:   opts.Limits,
		logger:   logger,
		r:        newRouter(transportTCP, opts.Name, logger),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *TCPClient) Publish(topic string, payload []byte) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if payload == nil {
		payload = []byte{}
	}
	return c.send(frame.OpPublish, encodeEnvelope(topic, payload))
}

func (c *TCPClient) Subscribe(topic string, h Handler) (Subscription, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}
	s, first := c.r.add(topic, h, c.unsubscribe)
	if first {
		if err := c.send(frame.OpSubscribe, encodeEnvelope(topic, nil)); err != nil {
			c.r.remove(s)
			return nil, err
		}
	}
	return s, nil
}

func (c *TCPClient) unsubscribe(s *subscription) error {
	removed, last := c.r.remove(s)
	if removed && last {
		return c.send(frame.OpUnsubscribe, encodeEnvelope(s.topic, nil))
	}
	return nil
}

func (c *TCPClient) send(op frame.Op, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	f := frame.New(op, c.seq.Add(1), payload)
	if err := frame.WriteFrame(c.nc, f, c.limits); err != nil {
		return fmt.Errorf("bus: write %s: %w", op, err)
	}
	return nil
}

func (c *TCPClient) readLoop() {
	defer close(c.readDone)
	for {
		f, err := frame.ReadFrame(c.nc, c.limits)
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn().Err(err).Msg("bus.TCPClient.readLoop read failed")
			}
			return
		}
		if f.Header.Op != frame.OpDeliver {
			continue
		}
		topic, body, err := decodeEnvelope(f.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bus.TCPClient.readLoop dropped frame")
			continue
		}
		if c.r.wants(topic) {
			c.r.enqueue(topic, body)
		} else {
			observability.RecordBusDrop(transportTCP, topic)
		}
	}
}

// Close disconnects and waits for in-flight handlers. It must not be called
// from one of this client's handlers.
func (c *TCPClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.nc.Close()
		<-c.readDone
		c.r.close()
	})
	return err
}
