package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/tagctl/internal/protocol/tlv"
)

func TestAgentStartEncodeDecodeKeepsNegativeCoordinates(t *testing.T) {
	in := AgentStart{Identity: "hopeful_lamport", Role: RoleEvader, X: -1, Y: 7}
	out, err := DecodeAgentStart(in.Encode())
	if err != nil {
		t.Fatalf("decode agent_start: %v", err)
	}
	if out != in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestDecodeAgentStartKeepsUnknownRoleForCoordinator(t *testing.T) {
	in := AgentStart{Identity: "a", Role: Role("referee"), X: 1, Y: 1}
	out, err := DecodeAgentStart(in.Encode())
	if err != nil {
		t.Fatalf("decode should leave role validation to the coordinator: %v", err)
	}
	if out.Role.Valid() {
		t.Fatalf("expected invalid role to survive decode, got %q", out.Role)
	}
}

func TestValidateRejectsCoordinatesOutsideI32(t *testing.T) {
	over := int64(math.MaxInt32)
	over++
	under := int64(math.MinInt32)
	under--

	if err := (AgentMove{Identity: "a", X: int(over)}).Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for x above i32, got %v", err)
	}
	if err := (AgentMove{Identity: "a", Y: int(under)}).Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for y below i32, got %v", err)
	}
	start := AgentStart{Identity: "a", Role: RoleEvader, X: int(over)}
	if err := start.Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for agent_start, got %v", err)
	}
	edge := AgentMove{Identity: "a", X: math.MaxInt32, Y: math.MinInt32}
	if err := edge.Validate(); err != nil {
		t.Fatalf("expected i32 extremes accepted, got %v", err)
	}
	out, err := DecodeAgentMove(edge.Encode())
	if err != nil || out != edge {
		t.Fatalf("expected %+v, got %+v (%v)", edge, out, err)
	}
}

func TestDecodeAgentMoveMissingIdentity(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{tlv.I32(fieldX, 1), tlv.I32(fieldY, 2)})
	if _, err := DecodeAgentMove(payload); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestDecodeAgentMoveMissingCoordinate(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{tlv.String(fieldIdentity, "a"), tlv.I32(fieldX, 1)})
	if _, err := DecodeAgentMove(payload); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	payload := AgentStop{Identity: "a"}.Encode()
	if _, err := DecodeAgentStop(payload[:len(payload)-1]); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.String(fieldIdentity, "frozen_one"),
		tlv.U64(77, 12),
	})
	msg, err := DecodeGameFreezeAgent(payload)
	if err != nil {
		t.Fatalf("decode freeze: %v", err)
	}
	if msg.Identity != "frozen_one" {
		t.Fatalf("unexpected identity %q", msg.Identity)
	}
}

func TestGameStateEmptyPayload(t *testing.T) {
	msg, err := DecodeGameState(GameStop{}.Encode())
	if err != nil {
		t.Fatalf("decode empty game_state: %v", err)
	}
	if msg.State != nil {
		t.Fatalf("expected nil state, got %v", msg.State)
	}
}

func TestParseRoleAliases(t *testing.T) {
	cases := map[string]Role{"it": RolePursuer, "Pursuer": RolePursuer, "not_it": RoleEvader, " evader ": RoleEvader}
	for raw, want := range cases {
		got, err := ParseRole(raw)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseRole("ghost"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestTopicConstants(t *testing.T) {
	want := []string{"agent_start", "agent_move", "agent_stop", "game_start", "game_stop", "game_freeze_agent", "game_state"}
	got := Topics()
	if len(got) != len(want) {
		t.Fatalf("expected %d topics, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("topic[%d] = %q, want %q", i, got[i], want[i])
		}
		if !KnownTopic(want[i]) {
			t.Fatalf("expected %q to be known", want[i])
		}
	}
	if KnownTopic("agent_dance") {
		t.Fatalf("unexpected known topic")
	}
}
