package messages

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

// Codec decodes an envelope body into a concrete payload value.
type Codec func(body []byte) (any, error)

// Registry binds wire type strings to payload codecs. Bindings happen at
// startup; lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register binds messageType to a codec. Re-registering replaces the binding.
func (r *Registry) Register(messageType string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[messageType] = c
}

// Decode resolves the codec for messageType and decodes body.
func (r *Registry) Decode(messageType string, body []byte) (any, error) {
	r.mu.RLock()
	c, ok := r.codecs[messageType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("messages: unknown message type %q", messageType)
	}
	return c(body)
}

// Known reports whether messageType has a codec.
func (r *Registry) Known(messageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codecs[messageType]
	return ok
}

func jsonCodec[T any]() Codec {
	return func(body []byte) (any, error) {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
}

// DefaultRegistry returns a registry with all framework payloads bound.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(protocol.TypeUserMessage, jsonCodec[UserMessage]())
	r.Register(protocol.TypeAgentReply, jsonCodec[AgentReply]())
	r.Register(protocol.TypeScheduledTask, jsonCodec[ScheduledTask]())
	r.Register(protocol.TypeSubagentProgress, jsonCodec[SubagentProgress]())
	r.Register(protocol.TypeSubagentResult, jsonCodec[SubagentResult]())
	r.Register(protocol.TypeAgentTaskRequest, jsonCodec[AgentTaskRequest]())
	r.Register(protocol.TypeAgentTaskStatusUpdate, jsonCodec[AgentTaskStatusUpdate]())
	r.Register(protocol.TypeAgentTaskResult, jsonCodec[AgentTaskResult]())
	r.Register(protocol.TypeAgentTaskError, jsonCodec[AgentTaskError]())
	r.Register(protocol.TypeAgentTaskCancel, jsonCodec[AgentTaskCancel]())
	r.Register(protocol.TypeAgentCard, jsonCodec[AgentCard]())
	return r
}

// Encode marshals a payload for an envelope body.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// SessionOf extracts the session id from payloads that carry one, used by the
// dispatcher to serialize per-session delivery. Returns "" when the payload
// has no session affinity.
func SessionOf(payload any) string {
	switch p := payload.(type) {
	case *UserMessage:
		return p.SessionID
	case *AgentReply:
		return p.SessionID
	case *SubagentProgress:
		return p.PrimarySessionID
	case *SubagentResult:
		return p.PrimarySessionID
	default:
		return ""
	}
}
