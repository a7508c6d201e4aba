package memory

import (
	"fmt"
	"testing"
	"time"
)

func newTestWorkingStore(t *testing.T) (*WorkingStore, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewWorkingStore(t.TempDir(), time.Hour, 5)
	s.clock = func() time.Time { return now }
	return s, &now
}

func TestWorkingSetGetTTL(t *testing.T) {
	s, now := newTestWorkingStore(t)

	if err := s.Set("session/abc/draft", "hello", 10*time.Minute, "", nil); err != nil {
		t.Fatal(err)
	}
	if v, ok := s.Get("session/abc/draft"); !ok || v != "hello" {
		t.Fatalf("Get = %q, %v", v, ok)
	}

	// One nanosecond before expiry the value is still visible.
	*now = now.Add(10*time.Minute - time.Nanosecond)
	if _, ok := s.Get("session/abc/draft"); !ok {
		t.Error("value expired early")
	}
	// At exactly expiresAt it is gone.
	*now = now.Add(time.Nanosecond)
	if _, ok := s.Get("session/abc/draft"); ok {
		t.Error("value visible at expiry instant")
	}
}

func TestWorkingDefaultTTL(t *testing.T) {
	s, _ := newTestWorkingStore(t)
	if err := s.Set("session/abc/k", "v", 0, "", nil); err != nil {
		t.Fatal(err)
	}
	e, ok := s.GetEntry("session/abc/k")
	if !ok {
		t.Fatal("entry missing")
	}
	if got := e.ExpiresAt.Sub(e.StoredAt); got != time.Hour {
		t.Errorf("default TTL = %v, want 1h", got)
	}
}

func TestWorkingNamespace(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"session/abc/draft/v2", "session/abc"},
		{"patrol/disk-check", "patrol/disk-check"},
		{"single", "single"},
		{"a/b", "a/b"},
	}
	for _, tt := range tests {
		if got := Namespace(tt.key); got != tt.want {
			t.Errorf("Namespace(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestWorkingEvictsNearestExpiryWhenFull(t *testing.T) {
	s, _ := newTestWorkingStore(t) // capacity 5 per namespace

	for i := 0; i < 5; i++ {
		ttl := time.Duration(i+1) * time.Hour
		if err := s.Set(fmt.Sprintf("session/full/k%d", i), "v", ttl, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	// k0 has the nearest expiry; adding a sixth key must evict it.
	if err := s.Set("session/full/k5", "v", time.Hour, "", nil); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Get("session/full/k0"); ok {
		t.Error("nearest-expiry entry not evicted")
	}
	if _, ok := s.Get("session/full/k5"); !ok {
		t.Error("new entry missing after eviction")
	}
	// A different namespace is unaffected by the full one.
	if err := s.Set("session/other/k", "v", time.Hour, "", nil); err != nil {
		t.Fatal(err)
	}
	if len(s.ListPrefix("session/full/")) != 5 {
		t.Errorf("namespace size = %d, want 5", len(s.ListPrefix("session/full/")))
	}
}

func TestWorkingOverwriteDoesNotEvict(t *testing.T) {
	s, _ := newTestWorkingStore(t)
	for i := 0; i < 5; i++ {
		if err := s.Set(fmt.Sprintf("ns/a/k%d", i), "v", time.Hour, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	// Overwriting an existing key at capacity must not evict anything.
	if err := s.Set("ns/a/k2", "v2", time.Hour, "", nil); err != nil {
		t.Fatal(err)
	}
	if got := len(s.ListPrefix("ns/a/")); got != 5 {
		t.Errorf("namespace size = %d after overwrite, want 5", got)
	}
}

func TestWorkingListPrunesExpired(t *testing.T) {
	s, now := newTestWorkingStore(t)
	if err := s.Set("ns/a/short", "v", time.Minute, "", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("ns/a/long", "v", time.Hour, "", nil); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(10 * time.Minute)
	entries := s.List()
	if len(entries) != 1 || entries[0].Key != "ns/a/long" {
		t.Fatalf("expected only live entry, got %v", entries)
	}
}

func TestWorkingSearchFiltersAndRanks(t *testing.T) {
	s, _ := newTestWorkingStore(t)
	seed := []struct {
		key, value, category string
		tags                 []string
	}{
		{"session/s1/a", "postgres connection pool exhausted", "debugging", []string{"db"}},
		{"session/s1/b", "postgres postgres vacuum tuning", "debugging", nil},
		{"session/s2/c", "weekend plans", "personal", nil},
	}
	for _, e := range seed {
		if err := s.Set(e.key, e.value, time.Hour, e.category, e.tags); err != nil {
			t.Fatal(err)
		}
	}

	got := s.Search(SearchCriteria{Query: "postgres"})
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %v", got)
	}
	if got[0].Key != "session/s1/b" {
		t.Errorf("higher term frequency should rank first, got %q", got[0].Key)
	}

	if got := s.Search(SearchCriteria{Query: "postgres", Tags: []string{"db"}}); len(got) != 1 || got[0].Key != "session/s1/a" {
		t.Errorf("tag filter failed: %v", got)
	}
	if got := s.Search(SearchCriteria{Category: "personal"}); len(got) != 1 || got[0].Key != "session/s2/c" {
		t.Errorf("category filter without query failed: %v", got)
	}
}

func TestWorkingRestoreSkipsExpired(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := NewWorkingStore(base, time.Hour, 50)
	first.clock = func() time.Time { return now }
	if err := first.Set("session/s/live", "keep", 2*time.Hour, "", nil); err != nil {
		t.Fatal(err)
	}
	if err := first.Set("session/s/stale", "drop", time.Minute, "", nil); err != nil {
		t.Fatal(err)
	}

	later := now.Add(30 * time.Minute)
	second := NewWorkingStore(base, time.Hour, 50)
	second.clock = func() time.Time { return later }

	if v, ok := second.Get("session/s/live"); !ok || v != "keep" {
		t.Errorf("live entry not restored: %q, %v", v, ok)
	}
	if _, ok := second.Get("session/s/stale"); ok {
		t.Error("expired entry restored")
	}
}

func TestWorkingDeleteAndPrefix(t *testing.T) {
	s, _ := newTestWorkingStore(t)
	for _, k := range []string{"subagent/t1/plan", "subagent/t1/result", "subagent/t2/plan"} {
		if err := s.Set(k, "v", time.Hour, "", nil); err != nil {
			t.Fatal(err)
		}
	}

	s.Delete("subagent/t2/plan")
	if _, ok := s.Get("subagent/t2/plan"); ok {
		t.Error("deleted key still present")
	}
	s.Delete("subagent/t2/plan") // no-op

	if removed := s.DeletePrefix("subagent/t1/"); removed != 2 {
		t.Errorf("DeletePrefix removed %d, want 2", removed)
	}
	if entries := s.List(); len(entries) != 0 {
		t.Errorf("entries remain after prefix delete: %v", entries)
	}
}

func TestWorkingRejectsBadKeys(t *testing.T) {
	s, _ := newTestWorkingStore(t)
	for _, k := range []string{"", "//", "a/../b"} {
		if err := s.Set(k, "v", time.Minute, "", nil); err == nil {
			t.Errorf("Set accepted invalid key %q", k)
		}
	}
}

func TestWorkingSweep(t *testing.T) {
	s, now := newTestWorkingStore(t)
	if err := s.Set("ns/a/k1", "v", time.Minute, "", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("ns/a/k2", "v", time.Hour, "", nil); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(5 * time.Minute)
	if removed := s.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if removed := s.Sweep(); removed != 0 {
		t.Errorf("second Sweep removed %d, want 0", removed)
	}
}
