package profile

import "strings"

// Document is one markdown personality file, split into a preamble and the
// sections under each "## " heading.
type Document struct {
	Name     string
	Raw      string
	Preamble string
	Sections []Section
}

// Section is one "## "-delimited block of a document.
type Section struct {
	Heading string
	Body    string
}

// ParseDocument splits markdown into preamble and heading-delimited sections.
func ParseDocument(name, raw string) Document {
	doc := Document{Name: name, Raw: strings.TrimSpace(raw)}

	lines := strings.Split(doc.Raw, "\n")
	var current *Section
	var buf []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if current == nil {
			doc.Preamble = text
		} else {
			current.Body = text
			doc.Sections = append(doc.Sections, *current)
		}
		buf = buf[:0]
	}

	for _, line := range lines {
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			current = &Section{Heading: strings.TrimSpace(heading)}
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return doc
}

// Section returns the body of the named section, or "" when absent. Heading
// comparison is case-insensitive.
func (d Document) Section(heading string) string {
	for _, s := range d.Sections {
		if strings.EqualFold(s.Heading, heading) {
			return s.Body
		}
	}
	return ""
}
