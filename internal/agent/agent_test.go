package agent

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/grid"
	"github.com/danmuck/tagctl/internal/protocol"
	"github.com/danmuck/tagctl/internal/testutil/testlog"
)

const testTimeout = 2 * time.Second

// harness plays the coordinator side of the bus.
type harness struct {
	t      *testing.T
	client *bus.MemoryClient
	starts chan protocol.AgentStart
	moves  chan protocol.AgentMove
	stops  chan protocol.AgentStop
}

func newHarness(t *testing.T, m *bus.Memory) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		client: m.Connect("harness"),
		starts: make(chan protocol.AgentStart, 256),
		moves:  make(chan protocol.AgentMove, 256),
		stops:  make(chan protocol.AgentStop, 16),
	}
	_, _ = h.client.Subscribe(protocol.TopicAgentStart, func(_ string, p []byte) {
		if msg, err := protocol.DecodeAgentStart(p); err == nil {
			select {
			case h.starts <- msg:
			default:
			}
		}
	})
	_, _ = h.client.Subscribe(protocol.TopicAgentMove, func(_ string, p []byte) {
		if msg, err := protocol.DecodeAgentMove(p); err == nil {
			select {
			case h.moves <- msg:
			default:
			}
		}
	})
	_, _ = h.client.Subscribe(protocol.TopicAgentStop, func(_ string, p []byte) {
		if msg, err := protocol.DecodeAgentStop(p); err == nil {
			select {
			case h.stops <- msg:
			default:
			}
		}
	})
	return h
}

func (h *harness) publish(topic string, payload []byte) {
	h.t.Helper()
	if err := h.client.Publish(topic, payload); err != nil {
		h.t.Fatalf("publish %s: %v", topic, err)
	}
}

func (h *harness) nextStart() protocol.AgentStart {
	h.t.Helper()
	select {
	case m := <-h.starts:
		return m
	case <-time.After(testTimeout):
		h.t.Fatalf("expected agent_start")
	}
	return protocol.AgentStart{}
}

func (h *harness) nextMove() protocol.AgentMove {
	h.t.Helper()
	select {
	case m := <-h.moves:
		return m
	case <-time.After(testTimeout):
		h.t.Fatalf("expected agent_move")
	}
	return protocol.AgentMove{}
}

func runAgent(t *testing.T, ctx context.Context, a *Agent) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatalf("agent did not exit")
	}
}

func waitState(t *testing.T, a *Agent, want State) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for a.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected state %s, got %s", want, a.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestEvader(t *testing.T, m *bus.Memory, id string, start grid.Cell) *Agent {
	t.Helper()
	cfg := NewEvader(id, start, grid.Bounds{Rows: 5, Cols: 5}, rand.New(rand.NewSource(3)))
	cfg.RateHz = 200
	a, err := New(m.Connect(id), cfg)
	if err != nil {
		t.Fatalf("new evader: %v", err)
	}
	return a
}

func TestEvaderLifecycleUntilFrozen(t *testing.T) {
	testlog.Start(t)
	m := bus.NewMemory()
	defer m.Close()
	h := newHarness(t, m)

	a := newTestEvader(t, m, "evader-1", grid.Cell{X: 0, Y: 0})
	if a.State() != StateIdle {
		t.Fatalf("expected idle before run, got %s", a.State())
	}
	done := runAgent(t, context.Background(), a)

	// Registration repeats every tick until the start signal.
	first := h.nextStart()
	second := h.nextStart()
	if first != second || first.Role != protocol.RoleEvader || first.X != 0 || first.Y != 0 {
		t.Fatalf("unexpected registrations %+v %+v", first, second)
	}

	h.publish(protocol.TopicGameStart, protocol.GameStart{}.Encode())
	waitState(t, a, StateActive)
	mv := h.nextMove()
	if mv.Identity != "evader-1" {
		t.Fatalf("unexpected move identity %q", mv.Identity)
	}

	h.publish(protocol.TopicGameFreezeAgent, protocol.GameFreezeAgent{Identity: "someone-else"}.Encode())
	h.publish(protocol.TopicGameFreezeAgent, protocol.GameFreezeAgent{Identity: "evader-1"}.Encode())
	waitRun(t, done)

	if a.State() != StateFrozen {
		t.Fatalf("expected frozen, got %s", a.State())
	}
	select {
	case stop := <-h.stops:
		if stop.Identity != "evader-1" {
			t.Fatalf("unexpected stop identity %q", stop.Identity)
		}
	case <-time.After(testTimeout):
		t.Fatalf("expected agent_stop")
	}
	select {
	case extra := <-h.stops:
		t.Fatalf("expected exactly one agent_stop, got extra %+v", extra)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestGameStopEndsAgentAwaitingStart(t *testing.T) {
	testlog.Start(t)
	m := bus.NewMemory()
	defer m.Close()
	h := newHarness(t, m)

	a := newTestEvader(t, m, "evader-2", grid.Cell{X: 1, Y: 1})
	done := runAgent(t, context.Background(), a)
	h.nextStart()
	h.publish(protocol.TopicGameStop, protocol.GameStop{}.Encode())
	waitRun(t, done)
	if a.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", a.State())
	}
	select {
	case <-h.stops:
	case <-time.After(testTimeout):
		t.Fatalf("expected agent_stop")
	}
}

func TestCancelIsExternalStop(t *testing.T) {
	testlog.Start(t)
	m := bus.NewMemory()
	defer m.Close()
	h := newHarness(t, m)

	a := newTestEvader(t, m, "evader-3", grid.Cell{X: 2, Y: 2})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAgent(t, ctx, a)
	h.nextStart()
	cancel()
	waitRun(t, done)
	if a.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", a.State())
	}
	select {
	case <-h.stops:
	case <-time.After(testTimeout):
		t.Fatalf("expected agent_stop on cancel")
	}
	if err := a.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("expected ErrAlreadyRun, got %v", err)
	}
}

func TestAgentRetainsLastGameState(t *testing.T) {
	testlog.Start(t)
	m := bus.NewMemory()
	defer m.Close()
	h := newHarness(t, m)

	a := newTestEvader(t, m, "evader-4", grid.Cell{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAgent(t, ctx, a)
	h.nextStart()

	h.publish(protocol.TopicGameState, protocol.GameState{State: []byte("one")}.Encode())
	h.publish(protocol.TopicGameState, protocol.GameState{State: []byte("two")}.Encode())
	deadline := time.Now().Add(testTimeout)
	for string(a.LastGameState()) != "two" {
		if time.Now().After(deadline) {
			t.Fatalf("expected latest game_state retained, got %q", a.LastGameState())
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	waitRun(t, done)
}

func TestPursuerWaitsForTargetThenChases(t *testing.T) {
	testlog.Start(t)
	m := bus.NewMemory()
	defer m.Close()
	h := newHarness(t, m)

	cfg := NewPursuer("pursuer-1", grid.Cell{X: 4, Y: 4}, grid.Bounds{Rows: 5, Cols: 5})
	cfg.RateHz = 200
	a, err := New(m.Connect("pursuer-1"), cfg)
	if err != nil {
		t.Fatalf("new pursuer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAgent(t, ctx, a)

	if reg := h.nextStart(); reg.Role != protocol.RolePursuer {
		t.Fatalf("expected pursuer role, got %q", reg.Role)
	}
	h.publish(protocol.TopicGameStart, nil)
	waitState(t, a, StateActive)

	select {
	case mv := <-h.moves:
		t.Fatalf("expected no move without a target, got %+v", mv)
	case <-time.After(50 * time.Millisecond):
	}

	h.publish(protocol.TopicAgentMove, protocol.AgentMove{Identity: "evader-x", X: 0, Y: 0}.Encode())
	var mv protocol.AgentMove
	for {
		mv = h.nextMove()
		if mv.Identity == "pursuer-1" {
			break
		}
	}
	if mv.X != 3 || mv.Y != 3 {
		t.Fatalf("expected diagonal step to (3,3), got (%d,%d)", mv.X, mv.Y)
	}
	cancel()
	waitRun(t, done)
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	bounds := grid.Bounds{Rows: 2, Cols: 2}
	base := NewPursuer("p", grid.Cell{}, bounds)

	cfg := base
	cfg.Identity = " "
	if err := cfg.Validate(); !errors.Is(err, protocol.ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
	cfg = base
	cfg.Role = "referee"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	cfg = base
	cfg.RateHz = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	cfg = base
	cfg.Policy = nil
	if err := cfg.Validate(); !errors.Is(err, ErrMissingPolicy) {
		t.Fatalf("expected ErrMissingPolicy, got %v", err)
	}
}

func TestNewIdentityIsRolePrefixedAndUnique(t *testing.T) {
	a := NewIdentity(protocol.RoleEvader)
	b := NewIdentity(protocol.RoleEvader)
	if a == b {
		t.Fatalf("expected unique identities")
	}
	if len(a) < len("not_it-") || a[:len("not_it-")] != "not_it-" {
		t.Fatalf("expected role prefix, got %q", a)
	}
}
