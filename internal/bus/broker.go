package bus

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/observability"
	"github.com/danmuck/tagctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

const transportTCP = "tcp"

// Broker fans published frames out to every connection subscribed to the
// topic. Frames from one connection are handled in order, so a subscribe sent
// before a publish on the same connection always takes effect first.
type Broker struct {
	limits frame.Limits
	logger zerolog.Logger

	mu     sync.RWMutex
	conns  map[*brokerConn]struct{}
	closed bool
	ln     net.Listener
}

func NewBroker(limits frame.Limits) *Broker {
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	return &Broker{
		limits: limits,
		logger: logging.Component("bus.broker"),
		conns:  make(map[*brokerConn]struct{}),
	}
}

func (b *Broker) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return b.Serve(ctx, ln)
}

// Serve accepts connections until ctx is done or Close is called.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ln.Close()
		return ErrClosed
	}
	b.ln = ln
	b.mu.Unlock()

	b.logger.Info().Str("addr", ln.Addr().String()).Msg("bus.Broker.Serve listening")

	stop := context.AfterFunc(ctx, func() { _ = b.Close() })
	defer stop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if b.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		bc := b.attach(nc)
		if bc == nil {
			_ = nc.Close()
			continue
		}
		go b.serveConn(bc)
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ln := b.ln
	conns := make([]*brokerConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		c.close()
	}
	return nil
}

// Addr is the listener address once Serve has started.
func (b *Broker) Addr() net.Addr {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Broker) attach(nc net.Conn) *brokerConn {
	c := &brokerConn{
		nc:     nc,
		limits: b.limits,
		topics: make(map[string]struct{}),
		out:    newInbox(),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.conns[c] = struct{}{}
	go c.writeLoop(b.logger)
	return c
}

func (b *Broker) detach(c *brokerConn) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
	c.close()
}

func (b *Broker) serveConn(c *brokerConn) {
	defer b.detach(c)
	remote := c.nc.RemoteAddr().String()
	b.logger.Debug().Str("remote", remote).Msg("bus.Broker.serveConn attached")
	for {
		f, err := frame.ReadFrame(c.nc, b.limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				b.logger.Warn().Err(err).Str("remote", remote).Msg("bus.Broker.serveConn read failed")
			}
			return
		}
		if err := b.handle(c, f); err != nil {
			b.logger.Warn().Err(err).Str("remote", remote).Str("op", f.Header.Op.String()).Msg("bus.Broker.serveConn dropped frame")
		}
	}
}

func (b *Broker) handle(c *brokerConn, f frame.Frame) error {
	switch f.Header.Op {
	case frame.OpPing:
		return nil
	case frame.OpSubscribe, frame.OpUnsubscribe, frame.OpPublish:
	default:
		return frame.ErrUnknownOp
	}
	topic, body, err := decodeEnvelope(f.Payload)
	if err != nil {
		return err
	}
	switch f.Header.Op {
	case frame.OpSubscribe:
		c.subscribe(topic)
	case frame.OpUnsubscribe:
		c.unsubscribe(topic)
	case frame.OpPublish:
		b.fanout(topic, body)
	}
	return nil
}

func (b *Broker) fanout(topic string, body []byte) {
	payload := encodeEnvelope(topic, body)
	observability.RecordBusPublish(transportTCP, topic)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.conns {
		if c.wants(topic) {
			c.out.push(delivery{topic: topic, payload: payload})
		}
	}
}

type brokerConn struct {
	nc     net.Conn
	limits frame.Limits
	seq    atomic.Uint64

	mu     sync.RWMutex
	topics map[string]struct{}

	out       *inbox
	done      chan struct{}
	closeOnce sync.Once
}

func (c *brokerConn) subscribe(topic string) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (c *brokerConn) unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (c *brokerConn) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *brokerConn) writeLoop(logger zerolog.Logger) {
	defer close(c.done)
	for {
		d, ok := c.out.pop()
		if !ok {
			return
		}
		f := frame.New(frame.OpDeliver, c.seq.Add(1), d.payload)
		if err := frame.WriteFrame(c.nc, f, c.limits); err != nil {
			logger.Debug().Err(err).Str("topic", d.topic).Msg("bus.Broker.writeLoop write failed")
			_ = c.nc.Close()
			c.out.close()
			return
		}
	}
}

func (c *brokerConn) close() {
	c.closeOnce.Do(func() {
		c.out.close()
		_ = c.nc.Close()
	})
}
