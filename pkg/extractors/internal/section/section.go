// Package section holds the helpers extractors share: flattening records
// into utterances and rendering item lists as HTML and plain text.
package section

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wehubfusion/Digest/pkg/extractor"
)

// Utterance is one piece of spoken or written text inside a record.
type Utterance struct {
	RecordID    string
	RecordTitle string
	Speaker     string
	Self        bool
	Text        string
	At          time.Time
}

// Utterances flattens records into utterances in record order. Records that
// carry no utterance nodes contribute the lines of their markdown instead.
func Utterances(records []extractor.Record) []Utterance {
	out := make([]Utterance, 0)

	for _, rec := range records {
		found := false
		rec.Walk(func(n extractor.ContentNode) {
			if !n.IsUtterance() || strings.TrimSpace(n.Content) == "" {
				return
			}
			found = true
			u := Utterance{
				RecordID:    rec.ID,
				RecordTitle: rec.Title,
				Speaker:     n.SpeakerName,
				Self:        n.IsSelf(),
				Text:        strings.TrimSpace(n.Content),
				At:          rec.StartTime,
			}
			if n.StartTime != nil {
				u.At = *n.StartTime
			}
			out = append(out, u)
		})
		if found {
			continue
		}

		for _, line := range strings.Split(rec.Markdown, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#>-* "))
			if line == "" {
				continue
			}
			out = append(out, Utterance{
				RecordID:    rec.ID,
				RecordTitle: rec.Title,
				Text:        line,
				At:          rec.StartTime,
			})
		}
	}

	return out
}

// Item is one entry of a rendered list.
type Item struct {
	Text   string
	Detail string
}

// List renders items as an HTML list and a plain-text bullet list. An empty
// list renders the placeholder.
func List(items []Item, placeholder string) (htmlOut, textOut string) {
	if len(items) == 0 {
		return "<p><em>" + html.EscapeString(placeholder) + "</em></p>", placeholder
	}

	var h, t strings.Builder
	h.WriteString("<ul>")
	for _, item := range items {
		h.WriteString("<li>")
		h.WriteString(html.EscapeString(item.Text))
		if item.Detail != "" {
			fmt.Fprintf(&h, " <small>(%s)</small>", html.EscapeString(item.Detail))
		}
		h.WriteString("</li>")

		t.WriteString("- ")
		t.WriteString(item.Text)
		if item.Detail != "" {
			fmt.Fprintf(&t, " (%s)", item.Detail)
		}
		t.WriteString("\n")
	}
	h.WriteString("</ul>")

	return h.String(), strings.TrimRight(t.String(), "\n")
}

// Clock formats t in loc as a short time of day.
func Clock(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format("15:04")
}

// Limit truncates items to n when n is positive.
func Limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
