// Package agent drives one actor through registration, play and shutdown.
//
// A single lifecycle driver (Agent) is parameterized by a movement Policy.
// Bus handlers and the tick loop share state under one mutex, so a policy never
// sees an observation and a Next call at the same time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/grid"
	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/node"
	"github.com/danmuck/tagctl/internal/observability"
	"github.com/danmuck/tagctl/internal/protocol"
	"github.com/rs/zerolog"
)

const (
	DefaultEvaderRateHz  = 1.0
	DefaultPursuerRateHz = 2.0
)

var (
	ErrMissingPolicy = errors.New("agent: missing policy")
	ErrInvalidRate   = errors.New("agent: rate must be positive")
	ErrInvalidRole   = errors.New("agent: invalid role")
	ErrAlreadyRun    = errors.New("agent: already started")
)

type State int

const (
	StateIdle State = iota
	StateAwaitingStart
	StateActive
	StateFrozen
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateActive:
		return "active"
	case StateFrozen:
		return "frozen"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the loop exits in this state.
func (s State) Terminal() bool {
	return s == StateFrozen || s == StateStopped
}

type Config struct {
	Identity string
	Role     protocol.Role
	Start    grid.Cell
	Bounds   grid.Bounds
	RateHz   float64
	Policy   Policy
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Identity) == "" {
		return protocol.ErrMissingIdentity
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if c.RateHz <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidRate, c.RateHz)
	}
	if c.Policy == nil {
		return ErrMissingPolicy
	}
	return nil
}

// NewEvader builds an evader config with a random-walk policy.
func NewEvader(id string, start grid.Cell, bounds grid.Bounds, rng *rand.Rand) Config {
	return Config{
		Identity: id,
		Role:     protocol.RoleEvader,
		Start:    start,
		Bounds:   bounds,
		RateHz:   DefaultEvaderRateHz,
		Policy:   NewRandomWalk(rng),
	}
}

// NewPursuer builds a pursuer config with a greedy-pursuit policy.
func NewPursuer(id string, start grid.Cell, bounds grid.Bounds) Config {
	return Config{
		Identity: id,
		Role:     protocol.RolePursuer,
		Start:    start,
		Bounds:   bounds,
		RateHz:   DefaultPursuerRateHz,
		Policy:   NewGreedyPursuit(),
	}
}

var _ node.Unit = (*Agent)(nil)

type Agent struct {
	cfg    Config
	bus    bus.Bus
	logger zerolog.Logger
	period time.Duration

	mu        sync.Mutex
	state     State
	pos       grid.Cell
	lastState []byte

	wake chan struct{}
}

func New(b bus.Bus, cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Agent{
		cfg: cfg,
		bus: b,
		logger: logging.Component("agent").With().
			Str("actor", cfg.Identity).
			Str("role", cfg.Role.String()).
			Logger(),
		period: time.Duration(float64(time.Second) / cfg.RateHz),
		state:  StateIdle,
		pos:    cfg.Start,
		wake:   make(chan struct{}, 1),
	}, nil
}

func (a *Agent) NodeID() string { return a.cfg.Identity }

func (a *Agent) Kind() string { return a.cfg.Role.String() }

func (a *Agent) Identity() string { return a.cfg.Identity }

func (a *Agent) Role() protocol.Role { return a.cfg.Role }

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) Position() grid.Cell {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

// LastGameState returns a copy of the most recent game_state blob, or nil.
func (a *Agent) LastGameState() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastState == nil {
		return nil
	}
	out := make([]byte, len(a.lastState))
	copy(out, a.lastState)
	return out
}

// Run registers, plays until stopped, frozen or cancelled, and publishes
// agent_stop once before returning.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return ErrAlreadyRun
	}
	a.state = StateAwaitingStart
	a.mu.Unlock()

	subs, err := a.subscribe()
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	if err != nil {
		a.setTerminal(StateStopped)
		return err
	}

	a.logger.Info().Int("x", a.cfg.Start.X).Int("y", a.cfg.Start.Y).Msg("agent.Agent.Run awaiting start")
	for {
		started := time.Now()
		if ctx.Err() != nil {
			a.setTerminal(StateStopped)
			break
		}
		if done := a.tick(); done {
			break
		}
		timer := time.NewTimer(remaining(a.period, time.Since(started)))
		select {
		case <-ctx.Done():
			a.setTerminal(StateStopped)
		case <-a.wake:
		case <-timer.C:
		}
		timer.Stop()
		if a.State().Terminal() {
			break
		}
	}

	a.publishStop()
	return nil
}

func remaining(period, elapsed time.Duration) time.Duration {
	if d := period - elapsed; d > 0 {
		return d
	}
	return 0
}

func (a *Agent) subscribe() ([]bus.Subscription, error) {
	handlers := map[string]bus.Handler{
		protocol.TopicGameStart:       a.onGameStart,
		protocol.TopicGameStop:        a.onGameStop,
		protocol.TopicGameFreezeAgent: a.onFreeze,
		protocol.TopicGameState:       a.onGameState,
	}
	topics := []string{
		protocol.TopicGameStart,
		protocol.TopicGameStop,
		protocol.TopicGameFreezeAgent,
		protocol.TopicGameState,
	}
	if _, ok := a.cfg.Policy.(Observer); ok {
		handlers[protocol.TopicAgentMove] = a.onMove
		topics = append(topics, protocol.TopicAgentMove)
	}
	subs := make([]bus.Subscription, 0, len(topics))
	for _, topic := range topics {
		s, err := a.bus.Subscribe(topic, handlers[topic])
		if err != nil {
			return subs, fmt.Errorf("agent: subscribe %s: %w", topic, err)
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// tick runs one loop iteration and reports whether the loop should exit.
func (a *Agent) tick() bool {
	a.mu.Lock()
	state := a.state
	pos := a.pos
	a.mu.Unlock()

	observability.RecordAgentTick(a.cfg.Role.String(), state.String())
	switch state {
	case StateAwaitingStart:
		msg := protocol.AgentStart{Identity: a.cfg.Identity, Role: a.cfg.Role, X: pos.X, Y: pos.Y}
		if err := a.bus.Publish(protocol.TopicAgentStart, msg.Encode()); err != nil {
			a.logger.Warn().Err(err).Msg("agent.Agent.tick registration publish failed")
		}
		return false
	case StateActive:
		a.step()
		return false
	default:
		return state.Terminal()
	}
}

func (a *Agent) step() {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return
	}
	next, ok := a.cfg.Policy.Next(a.pos, a.cfg.Bounds)
	a.mu.Unlock()
	if !ok {
		return
	}

	msg := protocol.AgentMove{Identity: a.cfg.Identity, X: next.X, Y: next.Y}
	if err := msg.Validate(); err != nil {
		a.logger.Error().Err(err).Msg("agent.Agent.step refusing move")
		return
	}
	if err := a.bus.Publish(protocol.TopicAgentMove, msg.Encode()); err != nil {
		a.logger.Warn().Err(err).Msg("agent.Agent.step move publish failed")
		return
	}
	a.mu.Lock()
	a.pos = next
	a.mu.Unlock()
	a.logger.Debug().Int("x", next.X).Int("y", next.Y).Msg("agent.Agent.step moved")
}

func (a *Agent) publishStop() {
	msg := protocol.AgentStop{Identity: a.cfg.Identity}
	if err := a.bus.Publish(protocol.TopicAgentStop, msg.Encode()); err != nil {
		a.logger.Warn().Err(err).Msg("agent.Agent.Run stop publish failed")
		return
	}
	a.logger.Info().Str("state", a.State().String()).Msg("agent.Agent.Run stopped")
}

// setTerminal moves to s unless already terminal, and wakes the loop.
func (a *Agent) setTerminal(s State) bool {
	a.mu.Lock()
	if a.state.Terminal() || a.state == StateIdle {
		a.mu.Unlock()
		return false
	}
	a.state = s
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

func (a *Agent) onGameStart(string, []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateAwaitingStart {
		a.state = StateActive
		a.logger.Info().Msg("agent.Agent.onGameStart active")
	}
}

func (a *Agent) onGameStop(string, []byte) {
	if a.setTerminal(StateStopped) {
		a.logger.Info().Msg("agent.Agent.onGameStop stopping")
	}
}

func (a *Agent) onFreeze(_ string, payload []byte) {
	msg, err := protocol.DecodeGameFreezeAgent(payload)
	if err != nil {
		a.logger.Warn().Err(err).Msg("agent.Agent.onFreeze dropped payload")
		return
	}
	if obs, ok := a.cfg.Policy.(Observer); ok {
		a.mu.Lock()
		obs.ObserveFreeze(msg.Identity)
		a.mu.Unlock()
	}
	if msg.Identity == a.cfg.Identity && a.setTerminal(StateFrozen) {
		a.logger.Info().Msg("agent.Agent.onFreeze frozen")
	}
}

func (a *Agent) onGameState(_ string, payload []byte) {
	msg, err := protocol.DecodeGameState(payload)
	if err != nil {
		a.logger.Warn().Err(err).Msg("agent.Agent.onGameState dropped payload")
		return
	}
	a.mu.Lock()
	a.lastState = msg.State
	a.mu.Unlock()
}

func (a *Agent) onMove(_ string, payload []byte) {
	msg, err := protocol.DecodeAgentMove(payload)
	if err != nil {
		a.logger.Warn().Err(err).Msg("agent.Agent.onMove dropped payload")
		return
	}
	if msg.Identity == a.cfg.Identity {
		return
	}
	obs, ok := a.cfg.Policy.(Observer)
	if !ok {
		return
	}
	a.mu.Lock()
	obs.ObserveMove(msg.Identity, a.pos, grid.Cell{X: msg.X, Y: msg.Y})
	a.mu.Unlock()
}
