package protocol

import "github.com/danmuck/tagctl/internal/protocol/tlv"

func (m AgentStart) Encode() []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.String(fieldIdentity, m.Identity),
		tlv.String(fieldRole, string(m.Role)),
		tlv.I32(fieldX, int32(m.X)),
		tlv.I32(fieldY, int32(m.Y)),
	})
}

func (m AgentMove) Encode() []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.String(fieldIdentity, m.Identity),
		tlv.I32(fieldX, int32(m.X)),
		tlv.I32(fieldY, int32(m.Y)),
	})
}

func (m AgentStop) Encode() []byte {
	return tlv.EncodeFields([]tlv.Field{tlv.String(fieldIdentity, m.Identity)})
}

func (GameStart) Encode() []byte {
	return []byte{}
}

func (GameStop) Encode() []byte {
	return []byte{}
}

func (m GameFreezeAgent) Encode() []byte {
	return tlv.EncodeFields([]tlv.Field{tlv.String(fieldIdentity, m.Identity)})
}

func (m GameState) Encode() []byte {
	return tlv.EncodeFields([]tlv.Field{tlv.Bytes(fieldState, m.State)})
}
