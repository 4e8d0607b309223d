package protocol

import (
	"fmt"

	"github.com/danmuck/tagctl/internal/protocol/tlv"
)

func DecodeAgentStart(payload []byte) (AgentStart, error) {
	fields, err := decodeFields(payload)
	if err != nil {
		return AgentStart{}, err
	}
	id, err := stringField(fields, fieldIdentity)
	if err != nil {
		return AgentStart{}, err
	}
	role, err := stringField(fields, fieldRole)
	if err != nil {
		return AgentStart{}, err
	}
	x, y, err := cellFields(fields)
	if err != nil {
		return AgentStart{}, err
	}
	msg := AgentStart{Identity: id, Role: Role(role), X: x, Y: y}
	if err := msg.Validate(); err != nil {
		return AgentStart{}, err
	}
	return msg, nil
}

func DecodeAgentMove(payload []byte) (AgentMove, error) {
	fields, err := decodeFields(payload)
	if err != nil {
		return AgentMove{}, err
	}
	id, err := stringField(fields, fieldIdentity)
	if err != nil {
		return AgentMove{}, err
	}
	x, y, err := cellFields(fields)
	if err != nil {
		return AgentMove{}, err
	}
	msg := AgentMove{Identity: id, X: x, Y: y}
	if err := msg.Validate(); err != nil {
		return AgentMove{}, err
	}
	return msg, nil
}

func DecodeAgentStop(payload []byte) (AgentStop, error) {
	id, err := identityOnly(payload)
	if err != nil {
		return AgentStop{}, err
	}
	return AgentStop{Identity: id}, nil
}

func DecodeGameFreezeAgent(payload []byte) (GameFreezeAgent, error) {
	id, err := identityOnly(payload)
	if err != nil {
		return GameFreezeAgent{}, err
	}
	return GameFreezeAgent{Identity: id}, nil
}

func DecodeGameState(payload []byte) (GameState, error) {
	fields, err := decodeFields(payload)
	if err != nil {
		return GameState{}, err
	}
	f, ok := tlv.GetField(fields, fieldState)
	if !ok {
		return GameState{}, nil
	}
	state, err := f.AsBytes()
	if err != nil {
		return GameState{}, fmt.Errorf("%w: state: %v", ErrInvalidPayload, err)
	}
	return GameState{State: state}, nil
}

func identityOnly(payload []byte) (string, error) {
	fields, err := decodeFields(payload)
	if err != nil {
		return "", err
	}
	id, err := stringField(fields, fieldIdentity)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrMissingIdentity
	}
	return id, nil
}

func decodeFields(payload []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return fields, nil
}

func stringField(fields []tlv.Field, id uint16) (string, error) {
	f, err := tlv.RequireField(fields, id)
	if err != nil {
		if id == fieldIdentity {
			return "", ErrMissingIdentity
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	v, err := f.AsString()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}

func cellFields(fields []tlv.Field) (int, int, error) {
	fx, err := tlv.RequireField(fields, fieldX)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	fy, err := tlv.RequireField(fields, fieldY)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	x, err := fx.AsI32()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: x: %v", ErrInvalidPayload, err)
	}
	y, err := fy.AsI32()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: y: %v", ErrInvalidPayload, err)
	}
	return int(x), int(y), nil
}
