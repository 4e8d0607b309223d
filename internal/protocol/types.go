package protocol

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidPayload  = errors.New("protocol: invalid payload")
	ErrMissingIdentity = errors.New("protocol: missing identity")
	ErrUnknownTopic    = errors.New("protocol: unknown topic")
)

// Topics shared by agents and the coordinator.
const (
	TopicAgentStart      = "agent_start"
	TopicAgentMove       = "agent_move"
	TopicAgentStop       = "agent_stop"
	TopicGameStart       = "game_start"
	TopicGameStop        = "game_stop"
	TopicGameFreezeAgent = "game_freeze_agent"
	TopicGameState       = "game_state"
)

// Topics lists every topic in a stable order.
func Topics() []string {
	return []string{
		TopicAgentStart,
		TopicAgentMove,
		TopicAgentStop,
		TopicGameStart,
		TopicGameStop,
		TopicGameFreezeAgent,
		TopicGameState,
	}
}

// KnownTopic reports whether topic is part of the contract.
func KnownTopic(topic string) bool {
	for _, t := range Topics() {
		if t == topic {
			return true
		}
	}
	return false
}

// Role is the wire name of an actor's side.
type Role string

const (
	RolePursuer Role = "it"
	RoleEvader  Role = "not_it"
)

func (r Role) Valid() bool {
	return r == RolePursuer || r == RoleEvader
}

func (r Role) String() string {
	return string(r)
}

// ParseRole accepts the wire names plus the readable aliases used in config files.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "it", "pursuer":
		return RolePursuer, nil
	case "not_it", "evader":
		return RoleEvader, nil
	default:
		return "", fmt.Errorf("protocol: unknown role %q", raw)
	}
}

// Payload field ids. Ids are shared across topics; each topic uses a subset.
const (
	fieldIdentity uint16 = 1
	fieldRole     uint16 = 2
	fieldX        uint16 = 3
	fieldY        uint16 = 4
	fieldState    uint16 = 5
)

// AgentStart is the registration an agent repeats every tick until game_start.
type AgentStart struct {
	Identity string
	Role     Role
	X        int
	Y        int
}

// Validate checks the envelope shape only. Role validity is a coordinator
// decision because an unknown role is a protocol violation, not a decode error.
func (m AgentStart) Validate() error {
	if strings.TrimSpace(m.Identity) == "" {
		return ErrMissingIdentity
	}
	if strings.TrimSpace(string(m.Role)) == "" {
		return fmt.Errorf("%w: missing role", ErrInvalidPayload)
	}
	return checkCoordinates(m.X, m.Y)
}

type AgentMove struct {
	Identity string
	X        int
	Y        int
}

func (m AgentMove) Validate() error {
	if strings.TrimSpace(m.Identity) == "" {
		return ErrMissingIdentity
	}
	return checkCoordinates(m.X, m.Y)
}

// checkCoordinates rejects values that would wrap when encoded as i32.
func checkCoordinates(x, y int) error {
	for _, v := range [2]int{x, y} {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("%w: coordinate %d outside i32", ErrInvalidPayload, v)
		}
	}
	return nil
}

type AgentStop struct {
	Identity string
}

func (m AgentStop) Validate() error {
	if strings.TrimSpace(m.Identity) == "" {
		return ErrMissingIdentity
	}
	return nil
}

type GameStart struct{}

type GameStop struct{}

type GameFreezeAgent struct {
	Identity string
}

func (m GameFreezeAgent) Validate() error {
	if strings.TrimSpace(m.Identity) == "" {
		return ErrMissingIdentity
	}
	return nil
}

// GameState carries an opaque telemetry blob.
type GameState struct {
	State []byte
}
