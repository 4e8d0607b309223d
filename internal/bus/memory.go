package bus

import (
	"sync"

	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/observability"
)

const transportMemory = "memory"

// Memory is an in-process broker. Units obtain their own client via Connect.
type Memory struct {
	mu      sync.RWMutex
	clients map[*MemoryClient]struct{}
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{clients: make(map[*MemoryClient]struct{})}
}

// Connect returns a new client with its own inbox and dispatch goroutine.
func (m *Memory) Connect(name string) *MemoryClient {
	c := &MemoryClient{
		broker: m,
		r:      newRouter(transportMemory, name, logging.Component("bus.memory")),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		c.closed = true
		c.r.close()
		return c
	}
	m.clients[c] = struct{}{}
	return c
}

// Close disconnects every client.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	clients := make([]*MemoryClient, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = map[*MemoryClient]struct{}{}
	m.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	return nil
}

func (m *Memory) publish(topic string, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	observability.RecordBusPublish(transportMemory, topic)
	for c := range m.clients {
		if c.r.wants(topic) {
			c.r.enqueue(topic, buf)
		}
	}
	return nil
}

func (m *Memory) detach(c *MemoryClient) {
	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
}

// MemoryClient is one unit's view of a Memory broker.
type MemoryClient struct {
	broker *Memory
	r      *router

	mu     sync.Mutex
	closed bool
}

func (c *MemoryClient) Publish(topic string, payload []byte) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	return c.broker.publish(topic, payload)
}

func (c *MemoryClient) Subscribe(topic string, h Handler) (Subscription, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	if c.isClosed() {
		return nil, ErrClosed
	}
	s, _ := c.r.add(topic, h, func(s *subscription) error {
		c.r.remove(s)
		return nil
	})
	return s, nil
}

// Close detaches the client and waits for in-flight handlers. It must not be
// called from one of this client's handlers.
func (c *MemoryClient) Close() error {
	c.broker.detach(c)
	c.shutdown()
	return nil
}

func (c *MemoryClient) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.r.close()
}

func (c *MemoryClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
