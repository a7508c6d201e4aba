package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rockbotlabs/rockbot/internal/bus"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

// Recover converts handler panics into errors so a bad message cannot take
// down the consumer goroutine.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, mc *MessageContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler panic: %v", r)
					slog.Error("pipeline: recovered handler panic",
						"type", mc.Envelope.MessageType, "message_id", mc.Envelope.MessageID, "panic", r)
				}
			}()
			return next(ctx, mc)
		}
	}
}

// RetryLimit downgrades Retry to DeadLetter once a message has been
// redelivered maxRetries times, read from the rb-retry-count header the
// transport stamps on redelivery.
func RetryLimit(maxRetries int) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, mc *MessageContext) error {
			err := next(ctx, mc)
			if err == nil || ctx.Err() != nil {
				return err
			}
			n, _ := strconv.Atoi(mc.Envelope.Header(protocol.HeaderRetryCount))
			if n >= maxRetries {
				slog.Warn("pipeline: retry budget exhausted, dead-lettering",
					"type", mc.Envelope.MessageType, "message_id", mc.Envelope.MessageID, "retries", n)
				mc.ForceResult(bus.DeadLetter)
			}
			return err
		}
	}
}

// Logging records one line per dispatched message with timing.
func Logging() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, mc *MessageContext) error {
			start := time.Now()
			err := next(ctx, mc)
			attrs := []any{
				"type", mc.Envelope.MessageType,
				"message_id", mc.Envelope.MessageID,
				"source", mc.Envelope.Source,
				"agent", mc.Identity.Name,
				"instance", mc.Identity.InstanceID,
				"elapsed", time.Since(start).Round(time.Millisecond),
			}
			if err != nil {
				slog.Warn("message handled with error", append(attrs, "error", err)...)
			} else {
				slog.Debug("message handled", attrs...)
			}
			return err
		}
	}
}

// RateLimit enforces a per-source token bucket. Over-limit messages are
// re-queued rather than dropped.
func RateLimit(perMinute int) Middleware {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(source string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[source]
		if !ok {
			l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
			limiters[source] = l
		}
		return l
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, mc *MessageContext) error {
			if !limiterFor(mc.Envelope.Source).Allow() {
				mc.ForceResult(bus.Retry)
				return fmt.Errorf("rate limit exceeded for source %q", mc.Envelope.Source)
			}
			return next(ctx, mc)
		}
	}
}
