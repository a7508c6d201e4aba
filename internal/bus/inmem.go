package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

const defaultQueueDepth = 1024

// InMemory is a single-process broker implementing the Transport contract.
// Queues live for the process lifetime: unsubscribing keeps buffered messages,
// and a later subscriber on the same queue name resumes draining them.
type InMemory struct {
	mu       sync.RWMutex
	queues   map[string]*memQueue
	prefetch int
	closed   bool
}

type memQueue struct {
	name    string
	pattern string
	ch      chan Envelope
}

// NewInMemory creates a broker with the given per-subscription prefetch bound.
func NewInMemory(prefetch int) *InMemory {
	if prefetch <= 0 {
		prefetch = 8
	}
	return &InMemory{
		queues:   make(map[string]*memQueue),
		prefetch: prefetch,
	}
}

// Publish enqueues the envelope on every queue whose pattern matches topic.
// Blocks when a queue is at capacity so slow consumers exert backpressure.
func (b *InMemory) Publish(ctx context.Context, topic string, env Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus: publish on closed transport")
	}
	var targets []*memQueue
	for _, q := range b.queues {
		if TopicMatches(q.pattern, topic) {
			targets = append(targets, q)
		}
	}
	b.mu.RUnlock()

	for _, q := range targets {
		select {
		case q.ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe binds queueName to topicPattern and starts prefetch workers.
// Re-subscribing to an existing queue name resumes its backlog; the pattern
// of the first binding wins.
func (b *InMemory) Subscribe(ctx context.Context, topicPattern, queueName string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus: subscribe on closed transport")
	}
	q, ok := b.queues[queueName]
	if !ok {
		q = &memQueue{
			name:    queueName,
			pattern: topicPattern,
			ch:      make(chan Envelope, defaultQueueDepth),
		}
		b.queues[queueName] = q
	}
	b.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memSubscription{cancel: cancel, done: make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < b.prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.consume(subCtx, q, h)
		}()
	}
	go func() {
		wg.Wait()
		close(sub.done)
	}()

	return sub, nil
}

func (b *InMemory) consume(ctx context.Context, q *memQueue, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-q.ch:
			switch h(ctx, env) {
			case Ack:
				// done
			case Retry:
				b.redeliver(ctx, q, env)
			case DeadLetter:
				b.deadLetter(ctx, q, env)
			}
		}
	}
}

// redeliver requeues the envelope with the retry-count header bumped, the way
// a broker stamps delivery attempts. Body bytes are resent unchanged.
func (b *InMemory) redeliver(ctx context.Context, q *memQueue, env Envelope) {
	n, _ := strconv.Atoi(env.Header(protocol.HeaderRetryCount))
	requeued := env.WithHeader(protocol.HeaderRetryCount, strconv.Itoa(n+1))
	select {
	case q.ch <- requeued:
	case <-ctx.Done():
	default:
		slog.Warn("bus: retry dropped, queue full", "queue", q.name, "message_id", env.MessageID)
	}
}

func (b *InMemory) deadLetter(ctx context.Context, q *memQueue, env Envelope) {
	slog.Warn("bus: dead-lettering message",
		"queue", q.name, "message_id", env.MessageID, "type", env.MessageType)
	if err := b.Publish(ctx, "dlq."+q.name, env); err != nil {
		slog.Warn("bus: dead-letter publish failed", "queue", q.name, "error", err)
	}
}

// Close shuts the broker. Subsequent publishes and subscribes fail.
func (b *InMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type memSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *memSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}
