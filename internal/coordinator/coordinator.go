// Package coordinator is the authority on occupancy and game lifecycle.
//
// All inbound handlers and the deadline tick run under one mutex covering the
// actor records, role counters, occupancy index and phase. game_stop is
// broadcast at most once per coordinator, whichever path ends the game.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/grid"
	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/observability"
	"github.com/danmuck/tagctl/internal/protocol"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultRateHz              = 1.0
	DefaultRegistrationTimeout = 10 * time.Second
)

var (
	ErrUnknownRole   = errors.New("coordinator: unknown role")
	ErrUnknownActor  = errors.New("coordinator: unknown actor")
	ErrInvalidConfig = errors.New("coordinator: invalid config")
	ErrAlreadyRun    = errors.New("coordinator: already started")
)

type Reason string

const (
	ReasonEvadersEliminated   Reason = "evaders_eliminated"
	ReasonLastActorStanding   Reason = "last_actor_standing"
	ReasonRegistrationTimeout Reason = "registration_timeout"
	ReasonProtocolViolation   Reason = "protocol_violation"
	ReasonCancelled           Reason = "cancelled"
)

// Outcome describes how a game ended. Winner is empty when no side won.
type Outcome struct {
	Reason Reason        `json:"reason"`
	Winner protocol.Role `json:"winner,omitempty"`
	Frozen []string      `json:"frozen,omitempty"`
}

type Config struct {
	ID                  string
	Bounds              grid.Bounds
	ExpectedActors      int
	RateHz              float64
	RegistrationTimeout time.Duration
	PublishState        bool
}

func DefaultConfig(bounds grid.Bounds, expected int) Config {
	return Config{
		ID:                  "coordinator",
		Bounds:              bounds,
		ExpectedActors:      expected,
		RateHz:              DefaultRateHz,
		RegistrationTimeout: DefaultRegistrationTimeout,
	}
}

func (c Config) Validate() error {
	if err := c.Bounds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.ExpectedActors < 1 {
		return fmt.Errorf("%w: expected actors must be positive, got %d", ErrInvalidConfig, c.ExpectedActors)
	}
	if c.RateHz <= 0 {
		return fmt.Errorf("%w: rate must be positive, got %v", ErrInvalidConfig, c.RateHz)
	}
	if c.RegistrationTimeout <= 0 {
		return fmt.Errorf("%w: registration timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

type record struct {
	role protocol.Role
	at   grid.Cell
}

type Coordinator struct {
	cfg    Config
	bus    bus.Bus
	logger zerolog.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	started   bool
	phase     Phase
	records   map[string]*record
	index     *grid.Index
	counts    map[protocol.Role]int
	frozen    []string
	frozenSet map[string]struct{}
	since     time.Time
	outcome   Outcome
	fatal     error
	seq       uint64
	listening chan struct{}
	ended     chan struct{}

	notifyMu  sync.Mutex
	observers []Observer
	latest    Snapshot
}

func New(b bus.Bus, cfg Config) (*Coordinator, error) {
	if cfg.ID == "" {
		cfg.ID = "coordinator"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	index, err := grid.NewIndex(cfg.Bounds)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:       cfg,
		bus:       b,
		logger:    logging.Component("coordinator").With().Str("node", cfg.ID).Logger(),
		tracer:    observability.Tracer(),
		phase:     PhaseCollecting,
		records:   make(map[string]*record),
		index:     index,
		counts:    make(map[protocol.Role]int),
		frozenSet: make(map[string]struct{}),
		listening: make(chan struct{}),
		ended:     make(chan struct{}),
	}
	c.latest = c.snapshotLocked()
	return c, nil
}

func (c *Coordinator) NodeID() string { return c.cfg.ID }

func (c *Coordinator) Kind() string { return "coordinator" }

// OnSnapshot registers an observer. Register before Run.
func (c *Coordinator) OnSnapshot(o Observer) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Snapshot returns the most recently emitted snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	return c.latest
}

// Listening is closed once Run has subscribed to agent traffic.
func (c *Coordinator) Listening() <-chan struct{} {
	return c.listening
}

// Done is closed once the game has ended.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ended
}

// Run subscribes to agent traffic and blocks until the game ends. The error is
// non-nil only for protocol violations and bus failures.
func (c *Coordinator) Run(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return Outcome{}, ErrAlreadyRun
	}
	c.started = true
	c.since = time.Now()
	c.mu.Unlock()

	observability.SetPhase(int(PhaseCollecting))
	subs, err := c.subscribe()
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	if err != nil {
		c.mu.Lock()
		c.finishLocked(ReasonProtocolViolation, err)
		snap := c.snapshotLocked()
		c.notifyMu.Lock()
		c.mu.Unlock()
		c.deliver(snap)
		return c.result()
	}
	close(c.listening)

	c.logger.Info().
		Int("rows", c.cfg.Bounds.Rows).
		Int("cols", c.cfg.Bounds.Cols).
		Int("expected", c.cfg.ExpectedActors).
		Msg("coordinator.Coordinator.Run collecting")

	ticker := time.NewTicker(time.Duration(float64(time.Second) / c.cfg.RateHz))
	defer ticker.Stop()
	for {
		select {
		case <-c.ended:
			return c.result()
		case <-ctx.Done():
			c.apply(func() bool {
				c.finishLocked(ReasonCancelled, nil)
				return true
			})
			return c.result()
		case now := <-ticker.C:
			c.apply(func() bool { return c.checkDeadlineLocked(now) })
		}
	}
}

func (c *Coordinator) result() (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.outcome
	out.Frozen = append([]string(nil), c.outcome.Frozen...)
	return out, c.fatal
}

func (c *Coordinator) subscribe() ([]bus.Subscription, error) {
	handlers := []struct {
		topic string
		h     bus.Handler
	}{
		{protocol.TopicAgentStart, c.onStart},
		{protocol.TopicAgentMove, c.onMove},
		{protocol.TopicAgentStop, c.onStop},
	}
	subs := make([]bus.Subscription, 0, len(handlers))
	for _, e := range handlers {
		s, err := c.bus.Subscribe(e.topic, e.h)
		if err != nil {
			return subs, fmt.Errorf("coordinator: subscribe %s: %w", e.topic, err)
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// apply runs fn under the state mutex and, when fn reports a change, emits a
// snapshot. Observers see snapshots in state order.
func (c *Coordinator) apply(fn func() bool) {
	c.mu.Lock()
	if !fn() {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()
	c.deliver(snap)
}

// deliver is called with notifyMu held and releases it.
func (c *Coordinator) deliver(snap Snapshot) {
	defer c.notifyMu.Unlock()
	c.latest = snap
	for _, o := range c.observers {
		o(snap)
	}
	if !c.cfg.PublishState {
		return
	}
	blob, err := EncodeSnapshot(snap)
	if err != nil {
		c.logger.Warn().Err(err).Msg("coordinator.Coordinator.deliver encode snapshot failed")
		return
	}
	if err := c.bus.Publish(protocol.TopicGameState, protocol.GameState{State: blob}.Encode()); err != nil {
		c.logger.Debug().Err(err).Msg("coordinator.Coordinator.deliver game_state publish failed")
	}
}

func (c *Coordinator) snapshotLocked() Snapshot {
	c.seq++
	actors := make(map[string]ActorView, len(c.records))
	for id, r := range c.records {
		actors[id] = ActorView{Role: r.role, At: r.at}
	}
	return Snapshot{
		Seq:    c.seq,
		Phase:  c.phase,
		Bounds: c.cfg.Bounds,
		Actors: actors,
		Frozen: append([]string(nil), c.frozen...),
	}
}

func (c *Coordinator) startSpan(topic string) trace.Span {
	_, span := c.tracer.Start(context.Background(), "coordinator."+topic,
		trace.WithAttributes(attribute.String("topic", topic)))
	return span
}

func (c *Coordinator) onStart(topic string, payload []byte) {
	span := c.startSpan(topic)
	defer span.End()
	c.apply(func() bool {
		if c.phase == PhaseEnded {
			observability.RecordCoordinatorMessage(topic, "ignored")
			return false
		}
		msg, err := protocol.DecodeAgentStart(payload)
		if err != nil {
			return c.violationLocked(span, topic, "", err)
		}
		span.SetAttributes(attribute.String("actor", msg.Identity))
		return c.registerLocked(topic, msg, span)
	})
}

func (c *Coordinator) registerLocked(topic string, msg protocol.AgentStart, span trace.Span) bool {
	if _, known := c.records[msg.Identity]; known {
		observability.RecordCoordinatorMessage(topic, "ignored")
		c.logger.Debug().Str("actor", msg.Identity).Msg("coordinator.Coordinator.onStart duplicate registration")
		return false
	}
	if !msg.Role.Valid() {
		return c.violationLocked(span, topic, msg.Identity, fmt.Errorf("%w: %q from %s", ErrUnknownRole, msg.Role, msg.Identity))
	}
	if c.phase != PhaseCollecting {
		observability.RecordCoordinatorMessage(topic, "ignored")
		c.logger.Warn().Str("actor", msg.Identity).Str("phase", c.phase.String()).
			Msg("coordinator.Coordinator.onStart registration outside collecting")
		return false
	}

	at := grid.Cell{X: msg.X, Y: msg.Y}
	if err := c.index.Place(msg.Identity, at); err != nil {
		return c.violationLocked(span, topic, msg.Identity, err)
	}
	c.records[msg.Identity] = &record{role: msg.Role, at: at}
	c.counts[msg.Role]++
	observability.RecordCoordinatorMessage(topic, "accepted")
	observability.SetActors(msg.Role.String(), c.counts[msg.Role])
	c.logger.Info().
		Str("actor", msg.Identity).
		Str("role", msg.Role.String()).
		Int("x", at.X).Int("y", at.Y).
		Int("registered", len(c.records)).
		Msg("coordinator.Coordinator.onStart registered")

	if len(c.records) == c.cfg.ExpectedActors {
		c.phase = PhaseActive
		observability.SetPhase(int(PhaseActive))
		c.publishLocked(protocol.TopicGameStart, protocol.GameStart{}.Encode())
		c.logger.Info().Msg("coordinator.Coordinator.onStart game started")
	}
	return true
}

func (c *Coordinator) onMove(topic string, payload []byte) {
	span := c.startSpan(topic)
	defer span.End()
	c.apply(func() bool {
		if c.phase == PhaseEnded {
			observability.RecordCoordinatorMessage(topic, "ignored")
			return false
		}
		msg, err := protocol.DecodeAgentMove(payload)
		if err != nil {
			return c.violationLocked(span, topic, "", err)
		}
		span.SetAttributes(attribute.String("actor", msg.Identity))
		rec, ok := c.records[msg.Identity]
		if !ok {
			return c.violationLocked(span, topic, msg.Identity, fmt.Errorf("%w: move from %s", ErrUnknownActor, msg.Identity))
		}
		at := grid.Cell{X: msg.X, Y: msg.Y}
		if err := c.index.Place(msg.Identity, at); err != nil {
			return c.violationLocked(span, topic, msg.Identity, err)
		}
		rec.at = at
		observability.RecordCoordinatorMessage(topic, "accepted")
		c.logger.Debug().Str("actor", msg.Identity).Int("x", at.X).Int("y", at.Y).Msg("coordinator.Coordinator.onMove moved")

		c.interceptLocked(at)
		if len(c.records) == 1 {
			c.finishLocked(ReasonLastActorStanding, nil)
		}
		return true
	})
}

// interceptLocked freezes every evader in cell when a pursuer shares it.
func (c *Coordinator) interceptLocked(cell grid.Cell) {
	occupants := c.index.Occupants(cell)
	pursuerPresent := false
	for _, id := range occupants {
		if c.records[id].role == protocol.RolePursuer {
			pursuerPresent = true
			break
		}
	}
	if !pursuerPresent {
		return
	}
	for _, id := range occupants {
		if c.records[id].role != protocol.RoleEvader {
			continue
		}
		c.publishLocked(protocol.TopicGameFreezeAgent, protocol.GameFreezeAgent{Identity: id}.Encode())
		observability.RecordFreeze()
		if _, seen := c.frozenSet[id]; !seen {
			c.frozenSet[id] = struct{}{}
			c.frozen = append(c.frozen, id)
		}
		c.logger.Info().Str("actor", id).Int("x", cell.X).Int("y", cell.Y).Msg("coordinator.Coordinator.intercept frozen")
	}
}

func (c *Coordinator) onStop(topic string, payload []byte) {
	span := c.startSpan(topic)
	defer span.End()
	c.apply(func() bool {
		if c.phase == PhaseEnded {
			observability.RecordCoordinatorMessage(topic, "ignored")
			return false
		}
		msg, err := protocol.DecodeAgentStop(payload)
		if err != nil {
			return c.violationLocked(span, topic, "", err)
		}
		span.SetAttributes(attribute.String("actor", msg.Identity))
		rec, ok := c.records[msg.Identity]
		if !ok {
			return c.violationLocked(span, topic, msg.Identity, fmt.Errorf("%w: stop from %s", ErrUnknownActor, msg.Identity))
		}
		if err := c.index.Remove(msg.Identity); err != nil {
			c.logger.Warn().Err(err).Str("actor", msg.Identity).Msg("coordinator.Coordinator.onStop occupancy already clear")
		}
		c.counts[rec.role]--
		delete(c.records, msg.Identity)
		observability.RecordCoordinatorMessage(topic, "accepted")
		observability.SetActors(rec.role.String(), c.counts[rec.role])
		c.logger.Info().Str("actor", msg.Identity).Str("role", rec.role.String()).Msg("coordinator.Coordinator.onStop left game")

		if c.counts[protocol.RoleEvader] == 0 {
			c.finishLocked(ReasonEvadersEliminated, nil)
		}
		return true
	})
}

func (c *Coordinator) checkDeadlineLocked(now time.Time) bool {
	if c.phase != PhaseCollecting {
		return false
	}
	if now.Sub(c.since) <= c.cfg.RegistrationTimeout {
		return false
	}
	c.logger.Warn().
		Int("registered", len(c.records)).
		Int("expected", c.cfg.ExpectedActors).
		Dur("timeout", c.cfg.RegistrationTimeout).
		Msg("coordinator.Coordinator.Run registration timed out")
	c.finishLocked(ReasonRegistrationTimeout, nil)
	return true
}

func (c *Coordinator) violationLocked(span trace.Span, topic, actor string, err error) bool {
	observability.RecordCoordinatorMessage(topic, "rejected")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Error().Err(err).Str("topic", topic).Str("actor", actor).Msg("coordinator.Coordinator protocol violation")
	c.finishLocked(ReasonProtocolViolation, err)
	return true
}

// finishLocked ends the game once: records the outcome, broadcasts game_stop
// and releases Run.
func (c *Coordinator) finishLocked(reason Reason, err error) {
	if c.phase == PhaseEnded {
		return
	}
	c.phase = PhaseEnded
	c.fatal = err
	c.outcome = Outcome{
		Reason: reason,
		Winner: c.winnerLocked(reason),
		Frozen: append([]string(nil), c.frozen...),
	}
	c.publishLocked(protocol.TopicGameStop, protocol.GameStop{}.Encode())
	observability.SetPhase(int(PhaseEnded))
	observability.RecordGameEnd(string(reason))
	close(c.ended)

	event := c.logger.Info()
	if err != nil {
		event = c.logger.Error().Err(err)
	}
	event.Str("reason", string(reason)).Str("winner", c.outcome.Winner.String()).
		Int("frozen", len(c.frozen)).
		Msg("coordinator.Coordinator game over")
}

func (c *Coordinator) winnerLocked(reason Reason) protocol.Role {
	switch reason {
	case ReasonEvadersEliminated:
		return protocol.RolePursuer
	case ReasonLastActorStanding:
		ids := make([]string, 0, len(c.records))
		for id := range c.records {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) == 1 {
			return c.records[ids[0]].role
		}
	}
	return ""
}

func (c *Coordinator) publishLocked(topic string, payload []byte) {
	if err := c.bus.Publish(topic, payload); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("coordinator.Coordinator publish failed")
	}
}
