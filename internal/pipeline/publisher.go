package pipeline

import (
	"context"

	"github.com/rockbotlabs/rockbot/internal/bus"
	"github.com/rockbotlabs/rockbot/internal/messages"
)

// Publisher wraps the transport with payload encoding and envelope assembly,
// so handlers publish typed messages instead of raw envelopes.
type Publisher struct {
	transport bus.Transport
	identity  bus.Identity
}

func NewPublisher(transport bus.Transport, identity bus.Identity) *Publisher {
	return &Publisher{transport: transport, identity: identity}
}

// EnvelopeOption adjusts the outgoing envelope before publication.
type EnvelopeOption func(bus.Envelope) bus.Envelope

func WithCorrelation(id string) EnvelopeOption {
	return func(e bus.Envelope) bus.Envelope { return e.WithCorrelation(id) }
}

func WithReplyTo(topic string) EnvelopeOption {
	return func(e bus.Envelope) bus.Envelope { return e.WithReplyTo(topic) }
}

func WithDestination(agent string) EnvelopeOption {
	return func(e bus.Envelope) bus.Envelope { return e.WithDestination(agent) }
}

func WithHeader(key, value string) EnvelopeOption {
	return func(e bus.Envelope) bus.Envelope { return e.WithHeader(key, value) }
}

// Publish encodes payload and sends it on topic.
func (p *Publisher) Publish(ctx context.Context, topic, messageType string, payload any, opts ...EnvelopeOption) error {
	body, err := messages.Encode(payload)
	if err != nil {
		return err
	}
	env := bus.NewEnvelope(messageType, p.identity.Name, body)
	for _, opt := range opts {
		env = opt(env)
	}
	return p.transport.Publish(ctx, topic, env)
}

// Identity returns the publishing agent's identity.
func (p *Publisher) Identity() bus.Identity { return p.identity }
