// Package bus is the topic-addressed publish/subscribe channel that connects
// agents and the coordinator.
//
// Every transport gives each client one FIFO inbox and one dispatch goroutine:
// handlers registered on a client never run concurrently and observe the
// client's messages, across all topics, in arrival order.
package bus

import (
	"errors"
	"strings"
)

var (
	ErrClosed       = errors.New("bus: closed")
	ErrInvalidTopic = errors.New("bus: invalid topic")
	ErrNilHandler   = errors.New("bus: nil handler")
)

// Handler receives one message. payload must be treated as read-only.
type Handler func(topic string, payload []byte)

type Subscription interface {
	Topic() string
	Unsubscribe() error
}

// Bus is one unit's connection: fire-and-forget publish plus asynchronous
// subscribe.
type Bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, h Handler) (Subscription, error)
	Close() error
}

func validateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" || strings.ContainsAny(topic, " \t\r\n*>") {
		return ErrInvalidTopic
	}
	return nil
}
