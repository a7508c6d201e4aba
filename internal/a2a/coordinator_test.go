package a2a

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rockbotlabs/rockbot/internal/agent"
	"github.com/rockbotlabs/rockbot/internal/bus"
	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/internal/profile"
	"github.com/rockbotlabs/rockbot/internal/providers"
	"github.com/rockbotlabs/rockbot/internal/skills"
	"github.com/rockbotlabs/rockbot/internal/tools"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

type captureTransport struct {
	mu        sync.Mutex
	published []capturedPublish
}

type capturedPublish struct {
	topic string
	env   bus.Envelope
}

func (t *captureTransport) Publish(ctx context.Context, topic string, env bus.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, capturedPublish{topic: topic, env: env})
	return nil
}

func (t *captureTransport) Subscribe(ctx context.Context, pattern, queue string, h bus.Handler) (bus.Subscription, error) {
	return nil, nil
}

func (t *captureTransport) Close() error { return nil }

func (t *captureTransport) onTopic(topic string) []capturedPublish {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []capturedPublish
	for _, p := range t.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type stubProvider struct{ content string }

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: p.content, FinishReason: "stop"}, nil
}
func (p *stubProvider) DefaultModel() string { return "stub" }
func (p *stubProvider) Name() string         { return "stub" }

type fixture struct {
	coordinator   *Coordinator
	transport     *captureTransport
	conversations *memory.ConversationStore
	working       *memory.WorkingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	for name, content := range map[string]string{
		profile.SoulFile:       "SOUL",
		profile.DirectivesFile: "DIRECTIVES",
	} {
		if err := os.WriteFile(filepath.Join(base, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	profiles, err := profile.NewManager(base, "rock")
	if err != nil {
		t.Fatal(err)
	}

	conversations := memory.NewConversationStore(30, time.Hour)
	working := memory.NewWorkingStore(t.TempDir(), time.Hour, 100)
	builder := agent.NewContextBuilder(agent.ContextBuilderConfig{
		Profiles:      profiles,
		Conversations: conversations,
		LongTerm:      memory.NewLongTermStore(t.TempDir()),
		Working:       working,
		Skills:        skills.NewStore(t.TempDir()),
		Behavior:      agent.DefaultModelBehavior(),
	})

	serializer := agent.NewSerializer()
	transport := &captureTransport{}
	publisher := pipeline.NewPublisher(transport, bus.NewIdentity("rock"))
	primary := agent.NewUserMessageHandler(agent.UserMessageHandlerConfig{
		Serializer:    serializer,
		Builder:       builder,
		Runner:        agent.NewRunner(&stubProvider{content: "noted"}, working, agent.DefaultModelBehavior()),
		Registry:      tools.NewRegistry(),
		Conversations: conversations,
		Publisher:     publisher,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	coordinator := NewCoordinator(ctx, CoordinatorConfig{
		SelfName:   "rock",
		Publisher:  publisher,
		Serializer: serializer,
		Primary:    primary,
		Working:    working,
	})
	return &fixture{coordinator: coordinator, transport: transport, conversations: conversations, working: working}
}

func TestInvokePublishesRequest(t *testing.T) {
	f := newFixture(t)

	taskID, err := f.coordinator.Invoke(context.Background(), "weatherbot", "forecast", "tomorrow in Oslo?", "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if taskID == "" {
		t.Fatal("empty task id")
	}

	published := f.transport.onTopic(protocol.TopicAgentTask)
	if len(published) != 1 {
		t.Fatalf("published %d requests, want 1", len(published))
	}
	env := published[0].env
	if env.CorrelationID != taskID {
		t.Errorf("correlation = %q, want %q", env.CorrelationID, taskID)
	}
	if env.ReplyTo != protocol.AgentResponseTopic("rock") {
		t.Errorf("replyTo = %q", env.ReplyTo)
	}
	if env.Destination != "weatherbot" {
		t.Errorf("destination = %q", env.Destination)
	}
	var req messages.AgentTaskRequest
	if err := json.Unmarshal(env.Body, &req); err != nil {
		t.Fatal(err)
	}
	if req.TaskID != taskID || req.Skill != "forecast" || req.FromAgent != "rock" {
		t.Errorf("request = %+v", req)
	}
	if len(f.coordinator.Pending()) != 1 {
		t.Error("task not tracked")
	}
}

func TestInvokeRequiresAgentAndSkill(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coordinator.Invoke(context.Background(), "", "forecast", "m", "s1", 0); err == nil {
		t.Error("missing agent accepted")
	}
	if _, err := f.coordinator.Invoke(context.Background(), "weatherbot", "", "m", "s1", 0); err == nil {
		t.Error("missing skill accepted")
	}
}

func TestWorkingStatusBubblesWithoutLLM(t *testing.T) {
	f := newFixture(t)
	taskID, err := f.coordinator.Invoke(context.Background(), "weatherbot", "forecast", "m", "s1", 0)
	if err != nil {
		t.Fatal(err)
	}

	err = f.coordinator.HandleStatus(context.Background(), &pipeline.MessageContext{
		Payload: &messages.AgentTaskStatusUpdate{TaskID: taskID, State: messages.TaskStateWorking, Detail: "fetching data"},
	})
	if err != nil {
		t.Fatal(err)
	}

	replies := f.transport.onTopic(protocol.TopicUserResponse)
	if len(replies) != 1 {
		t.Fatalf("published %d replies, want 1", len(replies))
	}
	var reply messages.AgentReply
	if err := json.Unmarshal(replies[0].env.Body, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.IsFinal || reply.Speaker != "weatherbot" || reply.Content != "fetching data" {
		t.Errorf("reply = %+v", reply)
	}
	if len(f.conversations.Get("s1")) != 0 {
		t.Error("working status touched conversation memory")
	}
	if len(f.coordinator.Pending()) != 1 {
		t.Error("working status removed the tracker entry")
	}
}

func TestResultFoldsAndPersists(t *testing.T) {
	f := newFixture(t)
	taskID, err := f.coordinator.Invoke(context.Background(), "weatherbot", "forecast", "m", "s1", 0)
	if err != nil {
		t.Fatal(err)
	}

	// A stale result from an earlier exchange with the same agent.
	staleKey := "session/s1/a2a/weatherbot/old-task/result"
	if err := f.working.Set(staleKey, "old", time.Hour, "", nil); err != nil {
		t.Fatal(err)
	}

	output := strings.Repeat("sunny with a chance of rain. ", 20)
	err = f.coordinator.HandleResult(context.Background(), &pipeline.MessageContext{
		Payload: &messages.AgentTaskResult{TaskID: taskID, Output: output},
	})
	if err != nil {
		t.Fatal(err)
	}

	key := "session/s1/a2a/weatherbot/" + taskID + "/result"
	if got, ok := f.working.Get(key); !ok || got != output {
		t.Errorf("raw result not persisted at %s", key)
	}
	if _, ok := f.working.Get(staleKey); ok {
		t.Error("stale same-agent result not purged")
	}

	replies := f.transport.onTopic(protocol.TopicUserResponse)
	if len(replies) != 2 {
		t.Fatalf("published %d replies, want preview bubble + final", len(replies))
	}
	var bubble, final messages.AgentReply
	if err := json.Unmarshal(replies[0].env.Body, &bubble); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(replies[1].env.Body, &final); err != nil {
		t.Fatal(err)
	}
	if bubble.IsFinal || bubble.Speaker != "weatherbot" || len(bubble.Content) > previewLimit+len("…") {
		t.Errorf("bubble = %+v", bubble)
	}
	if !final.IsFinal || final.Content != "noted" {
		t.Errorf("final = %+v", final)
	}

	turns := f.conversations.Get("s1")
	if len(turns) != 2 || !strings.Contains(turns[0].Content, key) {
		t.Errorf("synthetic turn does not point at the stored key: %+v", turns)
	}
	if len(f.coordinator.Pending()) != 0 {
		t.Error("tracker entry not removed")
	}
}

func TestErrorFolds(t *testing.T) {
	f := newFixture(t)
	taskID, err := f.coordinator.Invoke(context.Background(), "weatherbot", "forecast", "m", "s1", 0)
	if err != nil {
		t.Fatal(err)
	}

	err = f.coordinator.HandleError(context.Background(), &pipeline.MessageContext{
		Payload: &messages.AgentTaskError{TaskID: taskID, Code: messages.TaskErrorExecutionFailed, Message: "boom"},
	})
	if err != nil {
		t.Fatal(err)
	}

	turns := f.conversations.Get("s1")
	if len(turns) != 2 || !strings.Contains(turns[0].Content, "ExecutionFailed") || !strings.Contains(turns[0].Content, "boom") {
		t.Errorf("turns = %+v", turns)
	}
}

func TestUntrackedMessagesIgnored(t *testing.T) {
	f := newFixture(t)

	if err := f.coordinator.HandleResult(context.Background(), &pipeline.MessageContext{
		Payload: &messages.AgentTaskResult{TaskID: "not-ours", Output: "x"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.coordinator.HandleStatus(context.Background(), &pipeline.MessageContext{
		Payload: &messages.AgentTaskStatusUpdate{TaskID: "not-ours", State: messages.TaskStateWorking},
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.coordinator.HandleError(context.Background(), &pipeline.MessageContext{
		Payload: &messages.AgentTaskError{TaskID: "not-ours", Code: messages.TaskErrorExecutionFailed, Message: "x"},
	}); err != nil {
		t.Fatal(err)
	}

	if got := f.transport.onTopic(protocol.TopicUserResponse); len(got) != 0 {
		t.Errorf("untracked messages produced %d replies", len(got))
	}
}

func TestTimeoutDropsTaskSilently(t *testing.T) {
	f := newFixture(t)
	taskID, err := f.coordinator.Invoke(context.Background(), "weatherbot", "forecast", "m", "s1", 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.coordinator.Pending()) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(f.coordinator.Pending()); n != 0 {
		t.Fatalf("pending = %d after timeout", n)
	}

	// A timed-out task dies silently: no synthetic turn, no reply.
	time.Sleep(50 * time.Millisecond)
	if turns := f.conversations.Get("s1"); len(turns) != 0 {
		t.Errorf("timeout injected %d turn(s); first: %q", len(turns), turns[0].Content)
	}
	if replies := f.transport.onTopic(protocol.TopicUserResponse); len(replies) != 0 {
		t.Errorf("timeout published %d reply(ies)", len(replies))
	}

	// A result straggling in after the timeout is untracked and ignored.
	if err := f.coordinator.HandleResult(context.Background(), &pipeline.MessageContext{
		Payload: &messages.AgentTaskResult{TaskID: taskID, Output: "late"},
	}); err != nil {
		t.Fatal(err)
	}
	if turns := f.conversations.Get("s1"); len(turns) != 0 {
		t.Errorf("late result injected %d turn(s)", len(turns))
	}
}
