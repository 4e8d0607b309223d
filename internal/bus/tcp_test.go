package bus

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/tagctl/internal/protocol/frame"
	"github.com/danmuck/tagctl/internal/testutil/testlog"
)

func newTestBrokerOrSkip(t *testing.T) (*Broker, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp listen unavailable: %v", err)
	}
	b := NewBroker(frame.DefaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("broker did not stop")
		}
	})
	return b, ln.Addr().String()
}

func dialTest(t *testing.T, addr, name string) *TCPClient {
	t.Helper()
	opts := DefaultTCPOptions(name)
	opts.Backoff.MaxAttempts = 3
	c, err := DialTCP(context.Background(), addr, opts)
	if err != nil {
		t.Fatalf("dial %s: %v", name, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTCPBrokerRoutesBySubscription(t *testing.T) {
	testlog.Start(t)
	_, addr := newTestBrokerOrSkip(t)

	coord := dialTest(t, addr, "coordinator")
	agent := dialTest(t, addr, "agent")

	moves := newRecorder()
	if _, err := coord.Subscribe("agent_move", moves.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	starts := newRecorder()
	if _, err := agent.Subscribe("game_start", starts.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The coordinator's subscribe frame may still be in flight; repeat the
	// publish the way agents repeat registration until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := agent.Publish("agent_move", []byte("m")); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case <-moves.note:
		case <-time.After(50 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatalf("expected agent_move delivery")
			}
			continue
		}
		break
	}

	if err := coord.Publish("game_start", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := starts.wait(t, 1)
	if got[0].topic != "game_start" || got[0].payload != "" {
		t.Fatalf("unexpected delivery %+v", got[0])
	}
}

func TestTCPClientOrderOnOneConnection(t *testing.T) {
	testlog.Start(t)
	_, addr := newTestBrokerOrSkip(t)
	c := dialTest(t, addr, "loop")
	rec := newRecorder()
	_, _ = c.Subscribe("agent_move", rec.handle)
	_, _ = c.Subscribe("agent_stop", rec.handle)

	_ = c.Publish("agent_move", []byte("1"))
	_ = c.Publish("agent_move", []byte("2"))
	_ = c.Publish("agent_stop", []byte("3"))

	got := rec.wait(t, 3)
	for i, want := range []string{"1", "2", "3"} {
		if got[i].payload != want {
			t.Fatalf("delivery %d: expected %q, got %q", i, want, got[i].payload)
		}
	}
}

func TestDialTCPGivesUpAfterAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp listen unavailable: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	opts := DefaultTCPOptions("nobody")
	opts.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond, MaxAttempts: 2}
	opts.Rand = rand.New(rand.NewSource(1))
	if _, err := DialTCP(context.Background(), addr, opts); err == nil {
		t.Fatalf("expected dial failure")
	}
}

func TestTCPClientClosed(t *testing.T) {
	testlog.Start(t)
	_, addr := newTestBrokerOrSkip(t)
	c := dialTest(t, addr, "closing")
	_ = c.Close()
	if err := c.Publish("agent_move", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEnvelopeRejectsMissingTopic(t *testing.T) {
	if _, _, err := decodeEnvelope(nil); err == nil {
		t.Fatalf("expected missing topic error")
	}
	topic, body, err := decodeEnvelope(encodeEnvelope("game_stop", nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if topic != "game_stop" || len(body) != 0 {
		t.Fatalf("unexpected envelope %q %v", topic, body)
	}
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{6, 300 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := NextBackoffDelay(cfg, tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
