package subagent

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

func (t *captureTransport) waitForTopic(tb testing.TB, topic string, n int) []capturedPublish {
	tb.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := t.onTopic(topic); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %d messages on %s", n, topic)
	return nil
}

type stubProvider struct {
	content string
	block   bool
	mu      sync.Mutex
	calls   int
}

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &providers.ChatResponse{Content: p.content, FinishReason: "stop"}, nil
}

func (p *stubProvider) DefaultModel() string { return "stub" }
func (p *stubProvider) Name() string         { return "stub" }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestBuilder(t *testing.T) (*agent.ContextBuilder, *memory.LongTermStore, *memory.WorkingStore) {
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
	longterm := memory.NewLongTermStore(t.TempDir())
	working := memory.NewWorkingStore(t.TempDir(), time.Hour, 100)
	builder := agent.NewContextBuilder(agent.ContextBuilderConfig{
		Profiles:      profiles,
		Conversations: memory.NewConversationStore(30, time.Hour),
		LongTerm:      longterm,
		Working:       working,
		Skills:        skills.NewStore(t.TempDir()),
		Behavior:      agent.DefaultModelBehavior(),
	})
	return builder, longterm, working
}

func newTestManager(t *testing.T, provider providers.Provider, maxConcurrent int) (*Manager, *captureTransport, *memory.LongTermStore) {
	t.Helper()
	builder, longterm, working := newTestBuilder(t)
	transport := &captureTransport{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewManager(ctx, ManagerConfig{
		MaxConcurrent: maxConcurrent,
		Builder:       builder,
		Runner:        agent.NewRunner(provider, working, agent.DefaultModelBehavior()),
		BaseRegistry:  tools.NewRegistry(),
		Publisher:     pipeline.NewPublisher(transport, bus.NewIdentity("rock")),
		LongTerm:      longterm,
		Working:       working,
	})
	return m, transport, longterm
}

func decodeResult(t *testing.T, p capturedPublish) messages.SubagentResult {
	t.Helper()
	var res messages.SubagentResult
	if err := json.Unmarshal(p.env.Body, &res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestSpawnPublishesOneResult(t *testing.T) {
	m, transport, _ := newTestManager(t, &stubProvider{content: "research done"}, 4)

	taskID, err := m.Spawn(SpawnRequest{Description: "research a thing", PrimarySessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(taskID) != 8 {
		t.Errorf("taskID = %q, want 8 hex chars", taskID)
	}

	published := transport.waitForTopic(t, protocol.TopicSubagentResult, 1)
	res := decodeResult(t, published[0])
	if !res.IsSuccess || res.Output != "research done" || res.TaskID != taskID || res.PrimarySessionID != "s1" {
		t.Errorf("result = %+v", res)
	}

	// Exactly one terminal message, and the roster is empty again.
	time.Sleep(50 * time.Millisecond)
	if got := transport.onTopic(protocol.TopicSubagentResult); len(got) != 1 {
		t.Errorf("published %d results, want 1", len(got))
	}
	if active := m.ListActive(); len(active) != 0 {
		t.Errorf("active after completion: %v", active)
	}
}

func TestSpawnRejectsWhenFull(t *testing.T) {
	m, transport, _ := newTestManager(t, &stubProvider{block: true}, 1)

	first, err := m.Spawn(SpawnRequest{Description: "long task", PrimarySessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Spawn(SpawnRequest{Description: "one too many", PrimarySessionID: "s1"}); err == nil {
		t.Error("over-limit spawn accepted")
	} else if !strings.Contains(err.Error(), "limit") {
		t.Errorf("error does not mention the limit: %v", err)
	}

	if !m.Cancel(first) {
		t.Error("cancel returned false for running task")
	}
	published := transport.waitForTopic(t, protocol.TopicSubagentResult, 1)
	if res := decodeResult(t, published[0]); res.IsSuccess {
		t.Errorf("cancelled task reported success: %+v", res)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	m, _, _ := newTestManager(t, &stubProvider{content: "x"}, 4)
	if m.Cancel("nope") {
		t.Error("cancel of unknown task returned true")
	}
}

func TestSpawnRequiresDescription(t *testing.T) {
	m, _, _ := newTestManager(t, &stubProvider{content: "x"}, 4)
	if _, err := m.Spawn(SpawnRequest{Description: "   ", PrimarySessionID: "s1"}); err == nil {
		t.Error("blank description accepted")
	}
}

func TestTimeoutPublishesFailure(t *testing.T) {
	m, transport, _ := newTestManager(t, &stubProvider{block: true}, 4)

	if _, err := m.Spawn(SpawnRequest{
		Description:      "never finishes",
		Timeout:          50 * time.Millisecond,
		PrimarySessionID: "s1",
	}); err != nil {
		t.Fatal(err)
	}

	published := transport.waitForTopic(t, protocol.TopicSubagentResult, 1)
	res := decodeResult(t, published[0])
	if res.IsSuccess || !strings.Contains(res.Error, "timed out") {
		t.Errorf("result = %+v", res)
	}
}

func TestListActive(t *testing.T) {
	m, transport, _ := newTestManager(t, &stubProvider{block: true}, 4)

	id, err := m.Spawn(SpawnRequest{Description: "slow", PrimarySessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	active := m.ListActive()
	if len(active) != 1 || active[0].TaskID != id || active[0].SubagentSessionID != "subagent-"+id {
		t.Errorf("active = %+v", active)
	}
	m.Cancel(id)
	transport.waitForTopic(t, protocol.TopicSubagentResult, 1)
}

func TestSubagentToolsRegistered(t *testing.T) {
	// The run's registry carries the baked tools plus the base set.
	recorder := &toolNamesProvider{}
	m, transport, _ := newTestManager(t, recorder, 4)

	if _, err := m.Spawn(SpawnRequest{Description: "inspect", PrimarySessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	transport.waitForTopic(t, protocol.TopicSubagentResult, 1)

	names := recorder.toolNames()
	for _, want := range []string{"report_progress", "whiteboard_write", "share_result"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("tool %q missing from subagent registry: %v", want, names)
		}
	}
}

type toolNamesProvider struct {
	mu    sync.Mutex
	names []string
}

func (p *toolNamesProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = p.names[:0]
	for _, def := range req.Tools {
		p.names = append(p.names, def.Function.Name)
	}
	return &providers.ChatResponse{Content: "ok", FinishReason: "stop"}, nil
}

func (p *toolNamesProvider) DefaultModel() string { return "recorder" }
func (p *toolNamesProvider) Name() string         { return "recorder" }

func (p *toolNamesProvider) toolNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}
