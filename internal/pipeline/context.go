package pipeline

import (
	"context"

	"github.com/rockbotlabs/rockbot/internal/bus"
)

// MessageContext travels with one envelope through the middleware chain into
// the typed handler. Items is a per-message scratch map middleware can use to
// pass values downstream.
type MessageContext struct {
	Envelope bus.Envelope
	Payload  any
	Identity bus.Identity
	Items    map[string]any

	result    bus.DispatchResult
	resultSet bool
}

// ForceResult pins the dispatch result regardless of what the handler
// returns. Used by middleware to downgrade Retry to DeadLetter.
func (mc *MessageContext) ForceResult(r bus.DispatchResult) {
	mc.result = r
	mc.resultSet = true
}

// HandlerFunc processes a decoded message. A nil error acks the message.
type HandlerFunc func(ctx context.Context, mc *MessageContext) error

// Middleware wraps a handler, chain-of-responsibility style. A middleware may
// short-circuit by not calling next.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middleware around a terminal handler, first element
// outermost.
func Chain(h HandlerFunc, mw ...Middleware) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
