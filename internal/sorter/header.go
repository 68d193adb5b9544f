package sorter

import (
	"strings"
	"time"
)

// DefaultDateLayout is the timestamp layout of the header date line.
const DefaultDateLayout = "2006-01-02 15:04:05 MST"

// Header produces the lines written above the sorted body. Every line must
// be a comment so that a later run drops it from the body.
type Header interface {
	Lines(now time.Time) []string
}

// Banner is a Header made of fixed banner text followed by a date line.
// Banner lines that are not comments get a "# " prefix.
type Banner struct {
	Text       []string
	DateLayout string
}

// NewBanner returns a Banner with the default date layout.
func NewBanner(text ...string) Banner {
	return Banner{Text: text, DateLayout: DefaultDateLayout}
}

// Lines implements Header.
func (b Banner) Lines(now time.Time) []string {
	layout := b.DateLayout
	if layout == "" {
		layout = DefaultDateLayout
	}

	out := make([]string, 0, len(b.Text)+1)
	for _, t := range b.Text {
		for _, l := range strings.Split(strings.TrimRight(t, "\r\n"), "\n") {
			out = append(out, asComment(l))
		}
	}
	return append(out, "# Generated: "+now.Format(layout))
}

func asComment(line string) string {
	line = strings.TrimRight(line, "\r")
	if strings.HasPrefix(line, "#") {
		return line
	}
	return "# " + line
}
