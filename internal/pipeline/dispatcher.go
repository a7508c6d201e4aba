package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rockbotlabs/rockbot/internal/bus"
	"github.com/rockbotlabs/rockbot/internal/messages"
)

// Dispatcher translates incoming envelopes into typed handler invocations
// with middleware around them. Exactly one handler runs per envelope: the one
// registered for the envelope's message type.
type Dispatcher struct {
	identity   bus.Identity
	registry   *messages.Registry
	handlers   map[string]HandlerFunc
	middleware []Middleware
	lanes      *laneSet
}

func NewDispatcher(identity bus.Identity, registry *messages.Registry) *Dispatcher {
	return &Dispatcher{
		identity: identity,
		registry: registry,
		handlers: make(map[string]HandlerFunc),
		lanes:    newLaneSet(),
	}
}

// Use appends middleware; first added runs outermost. Call before Dispatch.
func (d *Dispatcher) Use(mw ...Middleware) {
	d.middleware = append(d.middleware, mw...)
}

// Handle registers the typed handler for a wire message type. Registering
// twice replaces the previous handler.
func (d *Dispatcher) Handle(messageType string, h HandlerFunc) {
	d.handlers[messageType] = h
}

// Dispatch decodes the envelope, runs the middleware chain and typed handler,
// and maps the outcome to a transport acknowledgment.
//
// Messages whose payload carries a session id are serialized per session;
// everything else runs on the caller's goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, env bus.Envelope) bus.DispatchResult {
	h, ok := d.handlers[env.MessageType]
	if !ok {
		slog.Warn("pipeline: no handler for message type",
			"type", env.MessageType, "message_id", env.MessageID, "agent", d.identity.Name)
		return bus.DeadLetter
	}

	payload, err := d.registry.Decode(env.MessageType, env.Body)
	if err != nil {
		slog.Warn("pipeline: payload decode failed",
			"type", env.MessageType, "message_id", env.MessageID, "error", err)
		return bus.DeadLetter
	}

	mc := &MessageContext{
		Envelope: env,
		Payload:  payload,
		Identity: d.identity,
		Items:    make(map[string]any),
	}

	run := func() bus.DispatchResult { return d.invoke(ctx, mc, h) }

	if session := messages.SessionOf(payload); session != "" {
		var result bus.DispatchResult
		d.lanes.Run(session, func() { result = run() })
		return result
	}
	return run()
}

func (d *Dispatcher) invoke(ctx context.Context, mc *MessageContext, h HandlerFunc) bus.DispatchResult {
	err := Chain(h, d.middleware...)(ctx, mc)

	if mc.resultSet {
		return mc.result
	}
	switch {
	case err == nil:
		return bus.Ack
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Cancelled work is re-queued, not failed.
		return bus.Retry
	default:
		slog.Warn("pipeline: handler error",
			"type", mc.Envelope.MessageType, "message_id", mc.Envelope.MessageID, "error", err)
		return bus.Retry
	}
}

// Bind subscribes the dispatcher to a topic pattern on the transport.
func (d *Dispatcher) Bind(ctx context.Context, t bus.Transport, topicPattern, queueName string) (bus.Subscription, error) {
	return t.Subscribe(ctx, topicPattern, queueName, func(ctx context.Context, env bus.Envelope) bus.DispatchResult {
		return d.Dispatch(ctx, env)
	})
}
