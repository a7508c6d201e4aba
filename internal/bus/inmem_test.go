package bus

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

func TestInMemoryPublishSubscribe(t *testing.T) {
	b := NewInMemory(4)
	defer b.Close()

	got := make(chan Envelope, 1)
	sub, err := b.Subscribe(context.Background(), "user.request", "q1", func(ctx context.Context, env Envelope) DispatchResult {
		got <- env
		return Ack
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	env := NewEnvelope(protocol.TypeUserMessage, "tester", []byte(`{}`))
	if err := b.Publish(context.Background(), "user.request", env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case delivered := <-got:
		if delivered.MessageID != env.MessageID {
			t.Errorf("message id = %q, want %q", delivered.MessageID, env.MessageID)
		}
		if delivered.Source != "tester" {
			t.Errorf("source = %q, want tester", delivered.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInMemoryWildcardDelivery(t *testing.T) {
	b := NewInMemory(2)
	defer b.Close()

	got := make(chan string, 4)
	sub, _ := b.Subscribe(context.Background(), "agent.response.*", "q", func(ctx context.Context, env Envelope) DispatchResult {
		got <- env.MessageID
		return Ack
	})
	defer sub.Unsubscribe()

	env := NewEnvelope(protocol.TypeAgentReply, "a", nil)
	b.Publish(context.Background(), "agent.response.rocky", env)
	b.Publish(context.Background(), "agent.task", NewEnvelope(protocol.TypeAgentTaskRequest, "a", nil))

	select {
	case id := <-got:
		if id != env.MessageID {
			t.Errorf("delivered %q, want %q", id, env.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wildcard delivery")
	}
	select {
	case id := <-got:
		t.Errorf("unexpected extra delivery %q", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInMemoryRetryIncrementsHeader(t *testing.T) {
	b := NewInMemory(1)
	defer b.Close()

	var mu sync.Mutex
	var counts []int
	done := make(chan struct{})

	sub, _ := b.Subscribe(context.Background(), "t", "q", func(ctx context.Context, env Envelope) DispatchResult {
		n, _ := strconv.Atoi(env.Header(protocol.HeaderRetryCount))
		mu.Lock()
		counts = append(counts, n)
		total := len(counts)
		mu.Unlock()
		if total < 3 {
			return Retry
		}
		close(done)
		return Ack
	})
	defer sub.Unsubscribe()

	b.Publish(context.Background(), "t", NewEnvelope(protocol.TypeUserMessage, "s", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redeliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2}
	for i, n := range want {
		if counts[i] != n {
			t.Errorf("delivery %d retry count = %d, want %d", i, counts[i], n)
		}
	}
}

func TestInMemoryDeadLetterRoutesToDLQ(t *testing.T) {
	b := NewInMemory(1)
	defer b.Close()

	dead := make(chan Envelope, 1)
	dlqSub, _ := b.Subscribe(context.Background(), "dlq.q", "dlq-watch", func(ctx context.Context, env Envelope) DispatchResult {
		dead <- env
		return Ack
	})
	defer dlqSub.Unsubscribe()

	sub, _ := b.Subscribe(context.Background(), "t", "q", func(ctx context.Context, env Envelope) DispatchResult {
		return DeadLetter
	})
	defer sub.Unsubscribe()

	env := NewEnvelope(protocol.TypeUserMessage, "s", []byte("x"))
	b.Publish(context.Background(), "t", env)

	select {
	case d := <-dead:
		if d.MessageID != env.MessageID {
			t.Errorf("dead-lettered id = %q, want %q", d.MessageID, env.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DLQ delivery")
	}
}

func TestEnvelopeImmutableHeaders(t *testing.T) {
	env := NewEnvelope(protocol.TypeUserMessage, "s", nil)
	env2 := env.WithHeader("x", "1")

	if env.Header("x") != "" {
		t.Error("WithHeader mutated the original envelope")
	}
	if env2.Header("x") != "1" {
		t.Error("WithHeader did not set header on copy")
	}
	if env2.MessageID != env.MessageID {
		t.Error("copy changed message id")
	}
}
