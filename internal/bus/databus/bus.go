// Package databus defines pub/sub interfaces for bridge events.
package databus

import "context"

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Message carries a published payload together with its topic.
type Message struct {
	Topic   string
	Payload any
}

// Bus delivers bridge events to interested subscribers. Topics are
// hierarchical dot-separated strings; subscriptions match exactly.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string) (SubscriptionID, <-chan Message, error)
	Unsubscribe(id SubscriptionID)
	Close()
}

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}
