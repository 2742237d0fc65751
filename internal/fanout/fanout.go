// Package fanout is the publish/subscribe transport distributing lobby and
// game events to every server instance holding connections for a lobby. One
// logical topic exists per lobby code; deliveries within a topic preserve
// publish order. The Redis implementation backs production; the in-memory
// one backs tests and single-process runs.
package fanout

import (
	"context"

	"github.com/pbellew/quizlive/internal/events"
)

// Fanout publishes and subscribes to per-lobby event topics.
type Fanout interface {
	// Publish sends ev on the lobby's topic. Implementations stamp
	// ev.Seq and ev.LobbyCode before delivery.
	Publish(ctx context.Context, code string, ev events.Envelope) error

	// Subscribe starts delivery of the lobby's topic. The subscription
	// buffers a bounded number of events; a subscriber that stops
	// draining loses messages rather than blocking publishers.
	Subscribe(ctx context.Context, code string) (Subscription, error)

	Close() error
}

// Subscription is one subscriber's view of a topic.
type Subscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan events.Envelope
	Close() error
}

const subscriptionBuffer = 64
