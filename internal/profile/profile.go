package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Personality document filenames under the profile base.
const (
	SoulFile        = "soul.md"
	DirectivesFile  = "directives.md"
	StyleFile       = "style.md"
	MemoryRulesFile = "memory-rules.md"
)

// Profile holds an agent's personality documents. Soul and directives are
// required; style and memory rules are optional.
type Profile struct {
	Name        string
	Soul        Document
	Directives  Document
	Style       *Document
	MemoryRules *Document
}

// Load reads the personality documents from base. Missing optional documents
// are not an error; missing soul or directives is.
func Load(base, name string) (*Profile, error) {
	soul, err := readDoc(base, SoulFile)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	directives, err := readDoc(base, DirectivesFile)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	p := &Profile{Name: name, Soul: *soul, Directives: *directives}
	if style, err := readDoc(base, StyleFile); err == nil {
		p.Style = style
	}
	if rules, err := readDoc(base, MemoryRulesFile); err == nil {
		p.MemoryRules = rules
	}
	return p, nil
}

func readDoc(base, file string) (*Document, error) {
	data, err := os.ReadFile(filepath.Join(base, file))
	if err != nil {
		return nil, err
	}
	doc := ParseDocument(strings.TrimSuffix(file, ".md"), string(data))
	return &doc, nil
}

// Compose builds the system prompt: identity line, then soul, directives,
// memory rules and style in that order.
func (p *Profile) Compose() string {
	parts := []string{fmt.Sprintf("You are %s.", p.Name), p.Soul.Raw, p.Directives.Raw}
	if p.MemoryRules != nil {
		parts = append(parts, p.MemoryRules.Raw)
	}
	if p.Style != nil {
		parts = append(parts, p.Style.Raw)
	}
	return strings.Join(parts, "\n\n")
}

// ComposeAt is Compose with the current time and timezone spliced in, for the
// context builder's system message.
func (p *Profile) ComposeAt(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return p.Compose() + fmt.Sprintf("\n\nCurrent time: %s\nTimezone: %s",
		local.Format("Monday, 2 January 2006 15:04"), loc.String())
}

// TaskDoc reads an optional per-task instruction file {base}/{name}.md, used
// by the scheduled task handler. Returns ("", false) when the file is absent.
func TaskDoc(base, name string) (string, bool) {
	clean := filepath.Base(name)
	if clean != name || name == "" || strings.HasPrefix(name, ".") {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(base, name+".md"))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}
