package bus

import (
	"fmt"

	"github.com/danmuck/tagctl/internal/protocol/tlv"
)

const (
	wireFieldTopic uint16 = 1
	wireFieldBody  uint16 = 2
)

// encodeEnvelope packs a topic and optional body for broker frames.
func encodeEnvelope(topic string, body []byte) []byte {
	fields := []tlv.Field{tlv.String(wireFieldTopic, topic)}
	if body != nil {
		fields = append(fields, tlv.Bytes(wireFieldBody, body))
	}
	return tlv.EncodeFields(fields)
}

func decodeEnvelope(payload []byte) (string, []byte, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return "", nil, fmt.Errorf("bus: decode envelope: %w", err)
	}
	tf, err := tlv.RequireField(fields, wireFieldTopic)
	if err != nil {
		return "", nil, fmt.Errorf("bus: decode envelope: %w", err)
	}
	topic, err := tf.AsString()
	if err != nil {
		return "", nil, fmt.Errorf("bus: decode envelope topic: %w", err)
	}
	if err := validateTopic(topic); err != nil {
		return "", nil, err
	}
	bf, ok := tlv.GetField(fields, wireFieldBody)
	if !ok {
		return topic, []byte{}, nil
	}
	body, err := bf.AsBytes()
	if err != nil {
		return "", nil, fmt.Errorf("bus: decode envelope body: %w", err)
	}
	return topic, body, nil
}
