package instructions

import (
	"strings"
)

// SectionHeading marks the appendable improvements section.
const SectionHeading = "## Recent Improvements:"

// Document is an instructions text split into its free-form base and the
// bullets of every improvements section, in first-seen order without repeats.
type Document struct {
	Base    string
	Bullets []string
}

// Parse splits text into base and bullets. Each improvements section runs
// from its heading to the next "## " heading or the end of the text; all
// of them are folded into one bullet list. Non-bullet lines inside a
// section are dropped.
func Parse(text string) Document {
	var (
		base      []string
		bullets   []string
		seen      = make(map[string]bool)
		inSection bool
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, SectionHeading) {
			inSection = true
			continue
		}
		if inSection && strings.HasPrefix(line, "## ") {
			inSection = false
		}
		if !inSection {
			base = append(base, line)
			continue
		}
		if !strings.HasPrefix(trimmed, "-") {
			continue
		}
		if b := NormalizeBullet(trimmed); b != "" && !seen[b] {
			seen[b] = true
			bullets = append(bullets, b)
		}
	}
	return Document{
		Base:    strings.TrimSpace(strings.Join(base, "\n")),
		Bullets: bullets,
	}
}

// Render serializes the document with exactly one improvements section at the end.
func (d Document) Render() string {
	var sb strings.Builder
	if d.Base != "" {
		sb.WriteString(d.Base)
		sb.WriteString("\n\n")
	}
	sb.WriteString(SectionHeading)
	for _, b := range d.Bullets {
		sb.WriteString("\n- ")
		sb.WriteString(b)
	}
	return sb.String()
}

// NormalizeBullet strips list markers and surrounding space.
func NormalizeBullet(s string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "-•*"))
}
