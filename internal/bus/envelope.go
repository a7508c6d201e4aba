package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

// Envelope is the immutable message record exchanged on the bus.
// Retries resend the same bytes; nothing mutates an envelope after creation.
type Envelope struct {
	MessageID     string            `json:"message_id"`
	MessageType   string            `json:"message_type"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Source        string            `json:"source"`
	Destination   string            `json:"destination,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
}

// Identity names one agent process on the bus. Name is the logical routing
// identity; InstanceID is unique per process and shows up in log context.
type Identity struct {
	Name       string
	InstanceID string
}

// NewIdentity builds an identity with a fresh instance id.
func NewIdentity(name string) Identity {
	return Identity{Name: name, InstanceID: uuid.NewString()[:8]}
}

// NewEnvelope builds an envelope with a fresh message id and UTC timestamp.
func NewEnvelope(messageType, source string, body []byte) Envelope {
	return Envelope{
		MessageID:   uuid.NewString(),
		MessageType: messageType,
		Source:      source,
		Timestamp:   time.Now().UTC(),
		Headers:     map[string]string{protocol.HeaderSource: source},
	}.withBody(body)
}

func (e Envelope) withBody(body []byte) Envelope {
	e.Body = body
	return e
}

// WithCorrelation returns a copy carrying the correlation id.
func (e Envelope) WithCorrelation(correlationID string) Envelope {
	e.CorrelationID = correlationID
	return e
}

// WithReplyTo returns a copy carrying the reply topic.
func (e Envelope) WithReplyTo(topic string) Envelope {
	e.ReplyTo = topic
	return e
}

// WithDestination returns a copy addressed to a specific agent.
func (e Envelope) WithDestination(agent string) Envelope {
	e.Destination = agent
	h := cloneHeaders(e.Headers)
	h[protocol.HeaderDestination] = agent
	e.Headers = h
	return e
}

// WithHeader returns a copy with one header set. The original header map is
// never modified so shared envelopes stay immutable.
func (e Envelope) WithHeader(key, value string) Envelope {
	h := cloneHeaders(e.Headers)
	h[key] = value
	e.Headers = h
	return e
}

// Header returns a header value or "".
func (e Envelope) Header(key string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[key]
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}
