package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rockbotlabs/rockbot/internal/providers"
)

func TestStoreSaveGetDelete(t *testing.T) {
	store := NewStore(t.TempDir())

	err := store.Save(Skill{
		Name:    "infra/restart-service",
		Content: "Use systemctl restart with a health check afterwards.",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got := store.Get("infra/restart-service")
	if got == nil {
		t.Fatal("skill not found after save")
	}
	if !got.Pending() {
		t.Error("skill saved without summary should be pending")
	}
	if got.CreatedAt.IsZero() {
		t.Error("createdAt not set")
	}

	if err := store.Delete("infra/restart-service"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Get("infra/restart-service") != nil {
		t.Error("skill present after delete")
	}
	if err := store.Delete("infra/restart-service"); err != nil {
		t.Errorf("double delete errored: %v", err)
	}
}

func TestStoreUpsertPreservesCreatedAt(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Save(Skill{Name: "s", Content: "v1"}); err != nil {
		t.Fatal(err)
	}
	created := store.Get("s").CreatedAt

	if err := store.Save(Skill{Name: "s", Content: "v2", Summary: "short"}); err != nil {
		t.Fatal(err)
	}
	got := store.Get("s")
	if got.Content != "v2" || got.Summary != "short" {
		t.Errorf("upsert did not replace fields: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("createdAt changed on upsert")
	}
}

func TestStoreRestartReload(t *testing.T) {
	base := t.TempDir()
	first := NewStore(base)
	if err := first.Save(Skill{Name: "ops/deploy", Content: "canary first then full rollout"}); err != nil {
		t.Fatal(err)
	}
	// Malformed files are skipped, not fatal.
	if err := os.WriteFile(filepath.Join(base, "junk.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	second := NewStore(base)
	if second.Get("ops/deploy") == nil {
		t.Fatal("skill not reloaded from disk")
	}
	if got := second.Search("canary rollout", 5); len(got) != 1 {
		t.Errorf("reloaded skill not searchable: %v", got)
	}
}

func TestStoreSearchFirstOpAfterRestart(t *testing.T) {
	base := t.TempDir()
	first := NewStore(base)
	if err := first.Save(Skill{Name: "ops/rollback", Content: "helm rollback to the previous revision"}); err != nil {
		t.Fatal(err)
	}

	// Search must lazily load from disk even when nothing else has touched
	// the reopened store yet.
	second := NewStore(base)
	if got := second.Search("rollback", 5); len(got) != 1 {
		t.Fatalf("first Search on reopened store returned %d skills", len(got))
	}
}

func TestStoreSearchRanksAndPendingIndexed(t *testing.T) {
	store := NewStore(t.TempDir())
	seed := []Skill{
		{Name: "a/kubectl", Summary: "kubernetes operations", Content: "kubectl get pods, kubectl logs"},
		{Name: "b/kube-debug", Content: "kubectl kubectl kubectl describe for debugging"},
		{Name: "c/cooking", Summary: "pasta", Content: "boil water"},
	}
	for _, s := range seed {
		if err := store.Save(s); err != nil {
			t.Fatal(err)
		}
	}

	got := store.Search("kubectl", 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	// The pending-summary skill is still recalled; higher term frequency first.
	if got[0].Name != "b/kube-debug" {
		t.Errorf("ranking wrong: %q first", got[0].Name)
	}

	if got := store.Search("kubectl", 1); len(got) != 1 {
		t.Errorf("maxResults not enforced: %v", got)
	}
}

func TestStoreIndexText(t *testing.T) {
	store := NewStore(t.TempDir())
	if store.IndexText() != "" {
		t.Error("empty store should produce empty index")
	}
	if err := store.Save(Skill{Name: "b/second", Summary: "does b"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(Skill{Name: "a/first", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	text := store.IndexText()
	lines := strings.Split(text, "\n")
	if len(lines) != 3 {
		t.Fatalf("index text = %q", text)
	}
	if !strings.Contains(lines[1], "a/first") || !strings.Contains(lines[1], "summary pending") {
		t.Errorf("pending skill line wrong: %q", lines[1])
	}
	if !strings.Contains(lines[2], "b/second: does b") {
		t.Errorf("summarized skill line wrong: %q", lines[2])
	}
}

func TestStoreRejectsBadNames(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, name := range []string{"", "../up", "white space", "semi;colon"} {
		if err := store.Save(Skill{Name: name, Content: "x"}); err == nil {
			t.Errorf("Save accepted invalid name %q", name)
		}
	}
}

func TestDeliveryTracker(t *testing.T) {
	tr := NewDeliveryTracker()

	got := tr.FilterNew("s1", []string{"a", "b"})
	if len(got) != 2 {
		t.Fatalf("first filter = %v", got)
	}
	got = tr.FilterNew("s1", []string{"a", "b", "c"})
	if len(got) != 1 || got[0] != "c" {
		t.Errorf("second filter = %v", got)
	}
	// Other sessions are independent.
	if got := tr.FilterNew("s2", []string{"a"}); len(got) != 1 {
		t.Errorf("sessions not isolated: %v", got)
	}
	if !tr.Delivered("s1", "a") || tr.Delivered("s1", "z") {
		t.Error("Delivered state wrong")
	}

	tr.Forget("s1")
	if tr.Delivered("s1", "a") {
		t.Error("Forget did not clear session")
	}
}

func TestIndexTrackerFirstTurnOnce(t *testing.T) {
	tr := NewIndexTracker()
	if !tr.FirstTurn("s1") {
		t.Error("first call should return true")
	}
	if tr.FirstTurn("s1") {
		t.Error("second call should return false")
	}
	if !tr.FirstTurn("s2") {
		t.Error("other session should be independent")
	}
	tr.Forget("s1")
	if !tr.FirstTurn("s1") {
		t.Error("forgotten session should reset")
	}
}

type stubProvider struct {
	reply string
	err   error
	calls int
}

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &providers.ChatResponse{Content: p.reply, FinishReason: "stop"}, nil
}

func (p *stubProvider) DefaultModel() string { return "stub-model" }
func (p *stubProvider) Name() string         { return "stub" }

func TestSummarizerBackfill(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Save(Skill{Name: "s", Content: "long skill body"}); err != nil {
		t.Fatal(err)
	}

	provider := &stubProvider{reply: "  does the thing quickly  "}
	NewSummarizer(provider, store).Backfill(context.Background(), "s")

	got := store.Get("s")
	if got.Summary != "does the thing quickly" {
		t.Errorf("summary = %q", got.Summary)
	}

	// Already-summarized skills are not re-sent to the LLM.
	provider.calls = 0
	NewSummarizer(provider, store).Backfill(context.Background(), "s")
	if provider.calls != 0 {
		t.Error("backfill re-ran on a summarized skill")
	}
}

func TestSummarizerBackfillFailureLeavesPending(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Save(Skill{Name: "s", Content: "body"}); err != nil {
		t.Fatal(err)
	}

	provider := &stubProvider{err: context.DeadlineExceeded}
	NewSummarizer(provider, store).Backfill(context.Background(), "s")

	if got := store.Get("s"); !got.Pending() {
		t.Errorf("failed backfill should leave summary pending, got %q", got.Summary)
	}
}

func TestUsageLogRoundTrip(t *testing.T) {
	log := NewUsageLog(t.TempDir())
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, name := range []string{"a", "b"} {
		err := log.Record(UsageEvent{Timestamp: day, SessionID: "s1", SkillName: name, Query: "q"})
		if err != nil {
			t.Fatal(err)
		}
	}

	events, err := log.ReadDay(day)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].SkillName != "a" || events[1].SkillName != "b" {
		t.Errorf("events = %v", events)
	}

	// Absent day reads as empty, not an error.
	if events, err := log.ReadDay(day.AddDate(0, 0, 5)); err != nil || events != nil {
		t.Errorf("absent day: %v, %v", events, err)
	}
}
