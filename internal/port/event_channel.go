package port

import (
	"context"
	"errors"
)

// Message is one record on the event log. Partition and Offset are set on
// delivery only.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

type EventPublisher interface {
	Publish(ctx context.Context, msg Message) error
}

// MessageHandler processes one delivery. Returning an error asks for
// redelivery; handlers must tolerate seeing the same message twice.
type MessageHandler func(ctx context.Context, msg Message) error

type EventSubscriber interface {
	// Subscribe consumes topic as a member of group until ctx is done
	Subscribe(ctx context.Context, topic, group string, handler MessageHandler) error
}

// ErrPermanentFailure marks a message that will never succeed and must not be
// redelivered.
var ErrPermanentFailure = errors.New("permanent failure processing message")
