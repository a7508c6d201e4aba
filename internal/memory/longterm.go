package memory

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one durable long-term memory record.
type Entry struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Category  string            `json:"category,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SearchCriteria filters and ranks store searches. Query ranks via BM25;
// the remaining fields pre-filter before ranking.
type SearchCriteria struct {
	Query         string
	Category      string // category prefix
	Tags          []string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	MaxResults    int
}

const defaultMaxResults = 20

// LongTermStore is a file-backed durable memory store. One file per entry at
// {base}/{category-path}/{id}.json; the in-memory index is populated lazily
// and is the authoritative source for search.
type LongTermStore struct {
	mu      sync.RWMutex
	base    string
	entries map[string]*Entry
	index   *BM25Index
	loaded  bool
}

func NewLongTermStore(base string) *LongTermStore {
	return &LongTermStore{
		base:    base,
		entries: make(map[string]*Entry),
		index:   NewBM25Index(),
	}
}

// SanitizeCategory validates a slash-separated category path. Only
// alphanumerics, '-', '_' and '/' are allowed; traversal and absolute paths
// are rejected.
func SanitizeCategory(category string) (string, error) {
	if category == "" {
		return "", nil
	}
	if strings.HasPrefix(category, "/") {
		return "", fmt.Errorf("category must not start with /: %q", category)
	}
	if strings.Contains(category, "..") {
		return "", fmt.Errorf("category must not contain ..: %q", category)
	}
	for _, r := range category {
		ok := r == '/' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return "", fmt.Errorf("category contains invalid character %q: %q", r, category)
		}
	}
	return strings.Trim(category, "/"), nil
}

func sanitizeID(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("entry id is required")
	}
	for _, r := range id {
		ok := r == '-' || r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return "", fmt.Errorf("entry id contains invalid character %q: %q", r, id)
		}
	}
	if strings.Contains(id, "..") {
		return "", fmt.Errorf("entry id must not contain ..: %q", id)
	}
	return id, nil
}

// Save upserts an entry by id. The id and category are sanitized; tags are
// lowercased. A category change moves the entry's file.
func (s *LongTermStore) Save(entry Entry) error {
	id, err := sanitizeID(entry.ID)
	if err != nil {
		return err
	}
	category, err := SanitizeCategory(entry.Category)
	if err != nil {
		return err
	}
	entry.ID = id
	entry.Category = category
	entry.Tags = lowercaseTags(entry.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	now := time.Now().UTC()
	if prev, ok := s.entries[id]; ok {
		entry.CreatedAt = prev.CreatedAt
		entry.UpdatedAt = now
		if prev.Category != category {
			if err := os.Remove(s.entryPath(prev)); err != nil && !os.IsNotExist(err) {
				slog.Warn("long-term memory: removing old entry file failed",
					"id", id, "error", err)
			}
		}
	} else if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	if err := s.writeEntry(&entry); err != nil {
		return err
	}
	s.entries[id] = &entry
	s.index.Add(id, entry.Content)
	return nil
}

// Get returns an entry copy by id, or nil when absent.
func (s *LongTermStore) Get(id string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Delete removes an entry. Deleting an absent id is a no-op.
func (s *LongTermStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	if err := os.Remove(s.entryPath(e)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.entries, id)
	s.index.Remove(id)
	return nil
}

// DeleteCategory removes every entry whose category starts with prefix.
// Returns the number of entries removed.
func (s *LongTermStore) DeleteCategory(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	removed := 0
	for id, e := range s.entries {
		if !strings.HasPrefix(e.Category, prefix) {
			continue
		}
		if err := os.Remove(s.entryPath(e)); err != nil && !os.IsNotExist(err) {
			slog.Warn("long-term memory: delete failed", "id", id, "error", err)
			continue
		}
		delete(s.entries, id)
		s.index.Remove(id)
		removed++
	}
	return removed
}

// Search filters then ranks entries. With a query, ordering is BM25 score
// descending; without, recency. Ties break on updatedAt desc, createdAt desc,
// id asc, so results are reproducible.
func (s *LongTermStore) Search(criteria SearchCriteria) []Entry {
	s.mu.Lock()
	s.ensureLoadedLocked()

	candidates := make(map[string]bool)
	for id, e := range s.entries {
		if matchesCriteria(e, criteria) {
			candidates[id] = true
		}
	}
	s.mu.Unlock()

	maxResults := criteria.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	var ordered []string
	if criteria.Query != "" {
		for _, m := range s.index.Rank(criteria.Query, candidates) {
			ordered = append(ordered, m.ID)
		}
	} else {
		for id := range candidates {
			ordered = append(ordered, id)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(ordered))
	for _, id := range ordered {
		if e, ok := s.entries[id]; ok {
			out = append(out, *e)
		}
	}

	if criteria.Query != "" {
		// BM25 already ordered by score with id tiebreak; refine equal-score
		// runs by recency.
		scores := make(map[string]float64, len(out))
		for _, m := range s.index.Rank(criteria.Query, candidates) {
			scores[m.ID] = m.Score
		}
		sort.SliceStable(out, func(i, j int) bool {
			return lessByRelevance(scores[out[i].ID], scores[out[j].ID], &out[i], &out[j])
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			return lessByRelevance(0, 0, &out[i], &out[j])
		})
	}

	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// SearchScored is Search with BM25 scores attached, for callers that apply a
// score floor (context builder recalls).
func (s *LongTermStore) SearchScored(criteria SearchCriteria) []ScoredEntry {
	entries := s.Search(criteria)
	if criteria.Query == "" {
		out := make([]ScoredEntry, len(entries))
		for i, e := range entries {
			out[i] = ScoredEntry{Entry: e}
		}
		return out
	}

	candidates := make(map[string]bool, len(entries))
	for _, e := range entries {
		candidates[e.ID] = true
	}
	scores := make(map[string]float64)
	for _, m := range s.index.Rank(criteria.Query, candidates) {
		scores[m.ID] = m.Score
	}
	out := make([]ScoredEntry, len(entries))
	for i, e := range entries {
		out[i] = ScoredEntry{Entry: e, Score: scores[e.ID]}
	}
	return out
}

// ScoredEntry pairs an entry with its BM25 match score.
type ScoredEntry struct {
	Entry Entry
	Score float64
}

// ListTags returns all distinct tags, sorted.
func (s *LongTermStore) ListTags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	seen := make(map[string]struct{})
	for _, e := range s.entries {
		for _, t := range e.Tags {
			seen[t] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// ListCategories returns all distinct categories, sorted.
func (s *LongTermStore) ListCategories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	seen := make(map[string]struct{})
	for _, e := range s.entries {
		if e.Category != "" {
			seen[e.Category] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func (s *LongTermStore) entryPath(e *Entry) string {
	if e.Category == "" {
		return filepath.Join(s.base, e.ID+".json")
	}
	return filepath.Join(s.base, filepath.FromSlash(e.Category), e.ID+".json")
}

func (s *LongTermStore) writeEntry(e *Entry) error {
	path := s.entryPath(e)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("long-term memory: create category dir: %w", err)
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

// ensureLoadedLocked walks the base directory once, on first use. Malformed
// files are logged and skipped, never fatal.
func (s *LongTermStore) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("long-term memory: read failed", "path", path, "error", err)
			return nil
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil || e.ID == "" {
			slog.Warn("long-term memory: skipping malformed entry", "path", path, "error", err)
			return nil
		}
		s.entries[e.ID] = &e
		s.index.Add(e.ID, e.Content)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("long-term memory: walk failed", "base", s.base, "error", err)
	}
}

func matchesCriteria(e *Entry, c SearchCriteria) bool {
	if c.Category != "" && !strings.HasPrefix(e.Category, c.Category) {
		return false
	}
	if len(c.Tags) > 0 && !tagsIntersect(e.Tags, c.Tags) {
		return false
	}
	if !c.CreatedAfter.IsZero() && e.CreatedAt.Before(c.CreatedAfter) {
		return false
	}
	if !c.CreatedBefore.IsZero() && e.CreatedAt.After(c.CreatedBefore) {
		return false
	}
	return true
}

func tagsIntersect(have, want []string) bool {
	for _, w := range want {
		w = strings.ToLower(w)
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func lowercaseTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = strings.ToLower(t)
	}
	return out
}

func lessByRelevance(scoreI, scoreJ float64, ei, ej *Entry) bool {
	if scoreI != scoreJ {
		return scoreI > scoreJ
	}
	if !ei.UpdatedAt.Equal(ej.UpdatedAt) {
		return ei.UpdatedAt.After(ej.UpdatedAt)
	}
	if !ei.CreatedAt.Equal(ej.CreatedAt) {
		return ei.CreatedAt.After(ej.CreatedAt)
	}
	return ei.ID < ej.ID
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// atomicWrite writes data via a temp file and rename so readers never see a
// partial entry.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rockbot-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
