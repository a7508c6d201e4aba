package bus

import "context"

// DispatchResult tells the transport what to do with a delivered message.
type DispatchResult int

const (
	// Ack removes the message from the queue.
	Ack DispatchResult = iota
	// Retry re-queues the message for redelivery.
	Retry
	// DeadLetter routes the message to the queue's DLQ topic.
	DeadLetter
)

func (r DispatchResult) String() string {
	switch r {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// Handler consumes one delivered envelope and decides its fate.
type Handler func(ctx context.Context, env Envelope) DispatchResult

// Subscription is a live binding of a queue to a topic pattern.
type Subscription interface {
	// Unsubscribe stops delivery. In-flight handlers observe context
	// cancellation; unacknowledged messages stay on the queue.
	Unsubscribe()
}

// Transport is the contract the host requires of any bus binding.
// Publish is at-least-once; acknowledgment is manual per message via the
// handler's DispatchResult. Topic patterns support "*" for one segment and
// "#" for any remaining segments over dot-separated topics.
type Transport interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Subscribe(ctx context.Context, topicPattern, queueName string, h Handler) (Subscription, error)
	Close() error
}
