package bus

import (
	"sync"

	"github.com/danmuck/tagctl/internal/observability"
	"github.com/rs/zerolog"
)

type delivery struct {
	topic   string
	payload []byte
}

// inbox is an unbounded FIFO. Publishers never block on slow consumers.
type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []delivery
	closed bool
}

func newInbox() *inbox {
	q := &inbox{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *inbox) push(d delivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, d)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available; ok is false once closed and drained.
func (q *inbox) pop() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return delivery{}, false
	}
	d := q.items[0]
	q.items[0] = delivery{}
	q.items = q.items[1:]
	return d, true
}

func (q *inbox) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

type subscription struct {
	id      uint64
	topic   string
	handler Handler
	cancel  func(*subscription) error
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Unsubscribe() error {
	return s.cancel(s)
}

// router owns one client's subscription table and dispatch goroutine.
type router struct {
	transport string
	name      string
	logger    zerolog.Logger

	mu     sync.RWMutex
	subs   map[string][]*subscription
	nextID uint64

	in   *inbox
	done chan struct{}
}

func newRouter(transport, name string, logger zerolog.Logger) *router {
	r := &router{
		transport: transport,
		name:      name,
		logger:    logger,
		subs:      make(map[string][]*subscription),
		in:        newInbox(),
		done:      make(chan struct{}),
	}
	go r.dispatch()
	return r
}

// add registers h and reports whether it is the first handler for topic.
func (r *router) add(topic string, h Handler, cancel func(*subscription) error) (*subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := &subscription{id: r.nextID, topic: topic, handler: h, cancel: cancel}
	first := len(r.subs[topic]) == 0
	r.subs[topic] = append(r.subs[topic], s)
	return s, first
}

// remove drops s and reports whether topic has no handlers left.
func (r *router) remove(s *subscription) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[s.topic]
	for i, cur := range list {
		if cur.id == s.id {
			list = append(list[:i], list[i+1:]...)
			removed = true
			break
		}
	}
	if len(list) == 0 {
		delete(r.subs, s.topic)
		return removed, true
	}
	r.subs[s.topic] = list
	return removed, false
}

func (r *router) wants(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[topic]) > 0
}

func (r *router) topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for t := range r.subs {
		out = append(out, t)
	}
	return out
}

func (r *router) enqueue(topic string, payload []byte) {
	if !r.in.push(delivery{topic: topic, payload: payload}) {
		observability.RecordBusDrop(r.transport, topic)
	}
}

func (r *router) handlers(topic string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.subs[topic]
	out := make([]Handler, len(list))
	for i, s := range list {
		out[i] = s.handler
	}
	return out
}

func (r *router) dispatch() {
	defer close(r.done)
	for {
		d, ok := r.in.pop()
		if !ok {
			return
		}
		hs := r.handlers(d.topic)
		if len(hs) == 0 {
			continue
		}
		observability.RecordBusDelivery(r.transport, d.topic)
		for _, h := range hs {
			r.invoke(h, d)
		}
	}
}

func (r *router) invoke(h Handler, d delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("client", r.name).
				Str("topic", d.topic).
				Interface("panic", rec).
				Msg("bus.router.dispatch handler panic")
		}
	}()
	h(d.topic, d.payload)
}

// close stops accepting messages and waits for queued ones to finish.
func (r *router) close() {
	r.in.close()
	<-r.done
}
