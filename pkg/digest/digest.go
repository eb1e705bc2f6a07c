// Package digest renders an execution report into the daily email.
package digest

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/wehubfusion/Digest/pkg/report"
)

const (
	failedHTML = "<p><em>This section could not be generated today.</em></p>"
	failedText = "This section could not be generated today."
	emptyHTML  = "<p><em>Nothing to report.</em></p>"
	emptyText  = "Nothing to report."
)

// Meta describes the day being rendered.
type Meta struct {
	// Date is the digested day, YYYY-MM-DD.
	Date string
	// Timezone is shown in the footer.
	Timezone string
	// RecordCount is the number of records the run saw.
	RecordCount int
	// Order lists extractor ids in priority order. Ids missing from the
	// report (disabled units) are skipped. When empty, successes come first
	// in report order followed by failures.
	Order []string
}

// Section is one rendered block of the digest.
type Section struct {
	ID        string
	Title     string
	HTML      htmltemplate.HTML
	Text      string
	ItemCount int
	Failed    bool
}

// Email is the rendered digest.
type Email struct {
	Subject        string
	HTML           string
	Text           string
	Sections       []Section
	FailedSections []string
}

type view struct {
	Subject     string
	Heading     string
	Meta        Meta
	Sections    []Section
	ExecutionID string
	Failed      int
}

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.New("digest.html").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: sans-serif; max-width: 640px; margin: 0 auto;">
<h1>{{.Heading}}</h1>
{{if .Meta.RecordCount}}<p>{{.Meta.RecordCount}} recordings</p>{{else}}<p>No recordings today.</p>{{end}}
{{range .Sections}}<section id="{{.ID}}">
<h2>{{.Title}}</h2>
{{.HTML}}
</section>
{{end}}<footer><p style="color:#888;font-size:12px;">{{if .Failed}}{{.Failed}} section(s) failed. {{end}}Run {{.ExecutionID}}{{with .Meta.Timezone}} ({{.}}){{end}}</p></footer>
</body></html>
`))

	textTmpl = texttemplate.Must(texttemplate.New("digest.txt").Parse(`{{.Heading}}
{{if .Meta.RecordCount}}{{.Meta.RecordCount}} recordings{{else}}No recordings today.{{end}}
{{range .Sections}}
== {{.Title}} ==
{{.Text}}
{{end}}
--
{{if .Failed}}{{.Failed}} section(s) failed. {{end}}Run {{.ExecutionID}}
`))
)

// Render builds the email from a report. titles maps extractor ids to
// section titles; unknown ids use the id itself. A failed extractor gets a
// placeholder section, so rendering never fails because a unit failed.
func Render(rep *report.Report, meta Meta, titles map[string]string) (*Email, error) {
	if rep == nil {
		return nil, fmt.Errorf("render digest: nil report")
	}

	title := func(id string) string {
		if t, ok := titles[id]; ok && t != "" {
			return t
		}
		return id
	}

	sections := make([]Section, 0, len(rep.Results)+len(rep.Errors))
	failed := make([]string, 0, len(rep.Errors))

	add := func(id string) {
		if res, ok := rep.Result(id); ok {
			s := Section{ID: id, Title: title(id), HTML: emptyHTML, Text: emptyText}
			if !res.Empty() {
				// Extractors escape their own output.
				s.HTML = htmltemplate.HTML(res.HTML)
				s.Text = res.Text
				s.ItemCount = res.Metadata.ItemCount
			}
			sections = append(sections, s)
			return
		}
		if _, ok := rep.Error(id); ok {
			sections = append(sections, Section{ID: id, Title: title(id), HTML: failedHTML, Text: failedText, Failed: true})
			failed = append(failed, id)
		}
	}

	if len(meta.Order) > 0 {
		for _, id := range meta.Order {
			add(id)
		}
	} else {
		for _, r := range rep.Results {
			add(r.ExtractorID)
		}
		for _, e := range rep.Errors {
			add(e.ExtractorID)
		}
	}

	v := view{
		Subject:     Subject(meta),
		Heading:     heading(meta.Date),
		Meta:        meta,
		Sections:    sections,
		ExecutionID: rep.ExecutionID,
		Failed:      len(failed),
	}

	var h, t bytes.Buffer
	if err := htmlTmpl.Execute(&h, v); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	if err := textTmpl.Execute(&t, v); err != nil {
		return nil, fmt.Errorf("render text: %w", err)
	}

	return &Email{
		Subject:        v.Subject,
		HTML:           h.String(),
		Text:           strings.TrimSpace(t.String()),
		Sections:       sections,
		FailedSections: failed,
	}, nil
}

// Subject is the email subject for a day.
func Subject(meta Meta) string {
	s := "Your daily digest: " + heading(meta.Date)
	if meta.RecordCount == 1 {
		return s + " (1 recording)"
	}
	return fmt.Sprintf("%s (%d recordings)", s, meta.RecordCount)
}

func heading(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return d.Format("Monday, January 2")
}
