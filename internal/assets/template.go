package assets

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Template is a prompt with {name} placeholders. Literal braces are written
// as {{ and }}. A brace that does not open a well-formed placeholder is kept
// as text.
type Template struct {
	Name string
	Text string

	segments []segment
}

type segment struct {
	text        string
	placeholder bool
}

// ParseTemplate splits text into literal and placeholder segments.
func ParseTemplate(name, text string) *Template {
	t := &Template{Name: name, Text: text}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := placeholderEnd(text, i+1)
			if end < 0 {
				lit.WriteByte(c)
				continue
			}
			flush()
			t.segments = append(t.segments, segment{text: text[i+1 : end], placeholder: true})
			i = end
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	return t
}

// placeholderEnd returns the index of the closing brace of an identifier
// starting at start, or -1.
func placeholderEnd(text string, start int) int {
	for j := start; j < len(text); j++ {
		c := text[j]
		switch {
		case c == '}':
			if j == start {
				return -1
			}
			return j
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9' && j > start:
		default:
			return -1
		}
	}
	return -1
}

// Placeholders lists the distinct placeholder names in order of appearance.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range t.segments {
		if s.placeholder && !seen[s.text] {
			seen[s.text] = true
			names = append(names, s.text)
		}
	}
	return names
}

// Require fails when any of names is not a placeholder of t.
func (t *Template) Require(names ...string) error {
	have := make(map[string]bool)
	for _, n := range t.Placeholders() {
		have[n] = true
	}
	var missing []string
	for _, n := range names {
		if !have[n] {
			missing = append(missing, "{"+n+"}")
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("assets: template %s is missing placeholder(s) %s", t.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Render substitutes values into the template. Extra values are ignored;
// a placeholder without a value is an error.
func (t *Template) Render(values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(t.Text))
	for _, s := range t.segments {
		if !s.placeholder {
			b.WriteString(s.text)
			continue
		}
		v, ok := values[s.text]
		if !ok {
			return "", eris.Errorf("assets: template %s: no value for {%s}", t.Name, s.text)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}
