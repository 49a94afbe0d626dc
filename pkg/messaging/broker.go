package messaging

import (
	"context"
)

// Broker publishes domain events. Publish marshals message to JSON.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	// Ping is used by readiness checks.
	Ping(ctx context.Context) error
	Close() error
}

// Message is the envelope published for every domain event. Type is one of
// the model.Event* constants and Payload the event's JSON body.
type Message struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
