package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// WorkingEntry is one TTL-scoped scratch value.
type WorkingEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

// Expired reports whether the entry is past its TTL at now.
func (e *WorkingEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// WorkingStore is the key-namespaced, TTL-based scratch space. Keys are
// opaque slash paths; writers stay in their own namespace by convention
// (session/{id}/…, patrol/{task}/…, subagent/{taskId}/…) while readers may
// read anywhere. TTL is authoritative: a value is visible iff now < expiresAt.
type WorkingStore struct {
	mu         sync.Mutex
	base       string
	defaultTTL time.Duration
	maxEntries int // per namespace
	entries    map[string]*WorkingEntry
	index      *BM25Index
	clock      func() time.Time
}

func NewWorkingStore(base string, defaultTTL time.Duration, maxEntries int) *WorkingStore {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	s := &WorkingStore{
		base:       base,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    make(map[string]*WorkingEntry),
		index:      NewBM25Index(),
		clock:      time.Now,
	}
	s.restore()
	return s
}

// Namespace returns the namespace of a key: its first two path segments.
func Namespace(key string) string {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 2 {
		return key
	}
	return parts[0] + "/" + parts[1]
}

func sanitizeKey(key string) (string, error) {
	key = strings.Trim(key, "/")
	if key == "" {
		return "", fmt.Errorf("working memory: key is required")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("working memory: key must not contain ..: %q", key)
	}
	return key, nil
}

// Set stores value under key. A non-positive ttl uses the default. When the
// key's namespace is at capacity, the entry nearest expiry is evicted rather
// than rejecting the write.
func (s *WorkingStore) Set(key, value string, ttl time.Duration, category string, tags []string) error {
	key, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	category, err = SanitizeCategory(category)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.clock().UTC()
	entry := &WorkingEntry{
		Key:       key,
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
		Category:  category,
		Tags:      lowercaseTags(tags),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)

	ns := Namespace(key)
	if _, exists := s.entries[key]; !exists {
		s.evictIfFullLocked(ns)
	}
	s.entries[key] = entry
	s.index.Add(key, value)
	s.persistNamespaceLocked(ns)
	return nil
}

// Get returns the live value for key, or ("", false) when absent or expired.
func (s *WorkingStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Expired(s.clock().UTC()) {
		return "", false
	}
	return e.Value, true
}

// GetEntry returns a copy of the live entry for key.
func (s *WorkingStore) GetEntry(key string) (WorkingEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Expired(s.clock().UTC()) {
		return WorkingEntry{}, false
	}
	return *e, true
}

// List returns all live entries sorted by key. Expired entries are pruned
// first.
func (s *WorkingStore) List() []WorkingEntry {
	return s.ListPrefix("")
}

// ListPrefix returns live entries whose key starts with prefix, sorted by key.
func (s *WorkingStore) ListPrefix(prefix string) []WorkingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.clock().UTC())

	var out []WorkingEntry
	for key, e := range s.entries {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Search ranks live entries by BM25 over their values, with category and tag
// pre-filters.
func (s *WorkingStore) Search(criteria SearchCriteria) []WorkingEntry {
	s.mu.Lock()
	s.pruneLocked(s.clock().UTC())

	candidates := make(map[string]bool)
	for key, e := range s.entries {
		if criteria.Category != "" && !strings.HasPrefix(e.Category, criteria.Category) {
			continue
		}
		if len(criteria.Tags) > 0 && !tagsIntersect(e.Tags, criteria.Tags) {
			continue
		}
		candidates[key] = true
	}
	s.mu.Unlock()

	maxResults := criteria.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	var keys []string
	if criteria.Query != "" {
		for _, m := range s.index.Rank(criteria.Query, candidates) {
			keys = append(keys, m.ID)
		}
	} else {
		for k := range candidates {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkingEntry, 0, len(keys))
	for _, k := range keys {
		if e, ok := s.entries[k]; ok {
			out = append(out, *e)
		}
		if len(out) >= maxResults {
			break
		}
	}
	return out
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *WorkingStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	s.index.Remove(key)
	s.persistNamespaceLocked(Namespace(e.Key))
}

// DeletePrefix removes every key with the given prefix. Returns the count.
func (s *WorkingStore) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	namespaces := make(map[string]struct{})
	removed := 0
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		namespaces[Namespace(key)] = struct{}{}
		delete(s.entries, key)
		s.index.Remove(key)
		removed++
	}
	for ns := range namespaces {
		s.persistNamespaceLocked(ns)
	}
	return removed
}

// Clear removes everything.
func (s *WorkingStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.entries {
		s.index.Remove(key)
		delete(s.entries, key)
	}
	if s.base != "" {
		if err := os.RemoveAll(s.base); err != nil {
			slog.Warn("working memory: clear failed", "error", err)
		}
	}
}

// Sweep prunes expired entries and rewrites affected namespace files.
// Returns the number of entries removed. Called by the host janitor.
func (s *WorkingStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(s.clock().UTC())
}

func (s *WorkingStore) pruneLocked(now time.Time) int {
	dirty := make(map[string]struct{})
	removed := 0
	for key, e := range s.entries {
		if e.Expired(now) {
			dirty[Namespace(key)] = struct{}{}
			delete(s.entries, key)
			s.index.Remove(key)
			removed++
		}
	}
	for ns := range dirty {
		s.persistNamespaceLocked(ns)
	}
	return removed
}

// evictIfFullLocked drops the entry nearest expiry in ns when the namespace
// is at capacity.
func (s *WorkingStore) evictIfFullLocked(ns string) {
	count := 0
	var victim *WorkingEntry
	for _, e := range s.entries {
		if Namespace(e.Key) != ns {
			continue
		}
		count++
		if victim == nil || e.ExpiresAt.Before(victim.ExpiresAt) {
			victim = e
		}
	}
	if count < s.maxEntries || victim == nil {
		return
	}
	delete(s.entries, victim.Key)
	s.index.Remove(victim.Key)
}

// persistNamespaceLocked writes one file per namespace holding its live
// entries. An empty namespace removes the file.
func (s *WorkingStore) persistNamespaceLocked(ns string) {
	if s.base == "" {
		return
	}
	var live []*WorkingEntry
	for _, e := range s.entries {
		if Namespace(e.Key) == ns {
			live = append(live, e)
		}
	}
	path := filepath.Join(s.base, namespaceFilename(ns))

	if len(live) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("working memory: remove namespace file failed", "namespace", ns, "error", err)
		}
		return
	}

	sort.Slice(live, func(i, j int) bool { return live[i].Key < live[j].Key })
	data, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		slog.Warn("working memory: marshal namespace failed", "namespace", ns, "error", err)
		return
	}
	if err := os.MkdirAll(s.base, 0755); err != nil {
		slog.Warn("working memory: create base dir failed", "error", err)
		return
	}
	if err := atomicWrite(path, data); err != nil {
		slog.Warn("working memory: persist namespace failed", "namespace", ns, "error", err)
	}
}

// restore replays unexpired entries from disk on startup.
func (s *WorkingStore) restore() {
	if s.base == "" {
		return
	}
	files, err := os.ReadDir(s.base)
	if err != nil {
		return
	}
	now := s.clock().UTC()
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.base, f.Name()))
		if err != nil {
			continue
		}
		var entries []*WorkingEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			slog.Warn("working memory: skipping malformed namespace file", "file", f.Name(), "error", err)
			continue
		}
		for _, e := range entries {
			if e.Key == "" || e.Expired(now) {
				continue
			}
			s.entries[e.Key] = e
			s.index.Add(e.Key, e.Value)
		}
	}
}

func namespaceFilename(ns string) string {
	return strings.ReplaceAll(ns, "/", "_") + ".json"
}
