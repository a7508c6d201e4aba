package skills

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

	"github.com/rockbotlabs/rockbot/internal/memory"
)

// Skill is one learned procedure. The summary may be empty right after save;
// a background job backfills it.
type Skill struct {
	Name      string    `json:"name"`
	Summary   string    `json:"summary,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Pending reports whether the skill is still waiting for its summary.
func (s *Skill) Pending() bool {
	return s.Summary == ""
}

// Store is a file-backed skill library: one file per skill in a tree under
// base, with an in-memory BM25 index over summary and content for recall.
type Store struct {
	mu     sync.Mutex
	base   string
	skills map[string]*Skill
	index  *memory.BM25Index
	loaded bool
}

func NewStore(base string) *Store {
	return &Store{
		base:   base,
		skills: make(map[string]*Skill),
		index:  memory.NewBM25Index(),
	}
}

func sanitizeName(name string) (string, error) {
	name = strings.Trim(name, "/")
	if name == "" {
		return "", fmt.Errorf("skills: name is required")
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("skills: name must not contain ..: %q", name)
	}
	for _, r := range name {
		ok := r == '/' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return "", fmt.Errorf("skills: name contains invalid character %q: %q", r, name)
		}
	}
	return name, nil
}

// Save upserts a skill by name. A pending summary does not keep the skill
// out of the index; recall works on content alone until the summary lands.
func (s *Store) Save(skill Skill) error {
	name, err := sanitizeName(skill.Name)
	if err != nil {
		return err
	}
	skill.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	now := time.Now().UTC()
	if prev, ok := s.skills[name]; ok {
		skill.CreatedAt = prev.CreatedAt
		skill.UpdatedAt = now
	} else if skill.CreatedAt.IsZero() {
		skill.CreatedAt = now
	}

	path := s.skillPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("skills: create dir: %w", err)
	}
	data, err := json.MarshalIndent(&skill, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(path, data); err != nil {
		return err
	}

	s.skills[name] = &skill
	s.index.Add(name, skill.Summary+" "+skill.Content)
	return nil
}

// Get returns a skill copy by name, or nil when absent.
func (s *Store) Get(name string) *Skill {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	skill, ok := s.skills[name]
	if !ok {
		return nil
	}
	cp := *skill
	return &cp
}

// List returns all skills sorted by name.
func (s *Store) List() []Skill {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	out := make([]Skill, 0, len(s.skills))
	for _, skill := range s.skills {
		out = append(out, *skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes a skill. Deleting an absent name is a no-op.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	if _, ok := s.skills[name]; !ok {
		return nil
	}
	if err := os.Remove(s.skillPath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.skills, name)
	s.index.Remove(name)
	return nil
}

// Search returns up to maxResults skills ranked by BM25 relevance to query.
func (s *Store) Search(query string, maxResults int) []Skill {
	if maxResults <= 0 {
		maxResults = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Load before ranking, or the first search on a reopened store ranks an
	// empty index.
	s.ensureLoadedLocked()

	matches := s.index.Rank(query, nil)

	out := make([]Skill, 0, maxResults)
	for _, m := range matches {
		if skill, ok := s.skills[m.ID]; ok {
			out = append(out, *skill)
		}
		if len(out) >= maxResults {
			break
		}
	}
	return out
}

// IndexText renders the one-line-per-skill index injected on a session's
// first turn. Pending summaries show as "(summary pending)".
func (s *Store) IndexText() string {
	skills := s.List()
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known skills:\n")
	for _, skill := range skills {
		summary := skill.Summary
		if summary == "" {
			summary = "(summary pending)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", skill.Name, summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Store) skillPath(name string) string {
	return filepath.Join(s.base, filepath.FromSlash(name)+".json")
}

func (s *Store) ensureLoadedLocked() {
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
			slog.Warn("skills: read failed", "path", path, "error", err)
			return nil
		}
		var skill Skill
		if err := json.Unmarshal(data, &skill); err != nil || skill.Name == "" {
			slog.Warn("skills: skipping malformed skill file", "path", path, "error", err)
			return nil
		}
		s.skills[skill.Name] = &skill
		s.index.Add(skill.Name, skill.Summary+" "+skill.Content)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("skills: walk failed", "base", s.base, "error", err)
	}
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rockbot-*.tmp")
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
