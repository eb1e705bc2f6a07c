// Package topics analyses how the day was spent: recorded time, busiest hour,
// sessions per part of day and the most frequent keywords.
package topics

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/extractors/internal/section"
)

// ID is the registry id of the extractor.
const ID = "topics"

var defaultStopWords = []string{
	"about", "after", "again", "also", "because", "been", "before", "being", "could", "didn't",
	"doesn't", "don't", "going", "gonna", "have", "just", "know", "like", "really", "right",
	"said", "should", "something", "that", "that's", "their", "there", "these", "they", "thing",
	"think", "this", "those", "want", "what", "when", "where", "which", "while", "will", "with",
	"would", "yeah", "your", "okay", "from", "them", "then", "than", "were", "it's", "i'm",
}

// Keyword is a word with its frequency.
type Keyword struct {
	Word  string
	Count int
}

// Analysis is the computed time breakdown.
type Analysis struct {
	TotalRecorded time.Duration
	Sessions      int
	BusiestHour   int
	BusiestTime   time.Duration
	PartOfDay     map[string]int
	Keywords      []Keyword
}

// Extractor computes the time and topic analysis.
type Extractor struct {
	extractor.Base
}

// New creates the extractor.
func New() *Extractor {
	return &Extractor{
		Base: extractor.NewBase(extractor.Info{
			ID:          ID,
			Name:        "Time & Topics",
			Description: "Where the day's time went and what it was about",
		}, extractor.Config{
			Enabled:  true,
			Priority: 80,
			Settings: extractor.Settings{
				"topN":          8,
				"minWordLength": 4,
			},
		}),
	}
}

// ValidateConfig checks topN, minWordLength and stopWords.
func (e *Extractor) ValidateConfig(cfg extractor.Config) error {
	if err := e.Base.ValidateConfig(cfg); err != nil {
		return err
	}
	for _, key := range []string{"topN", "minWordLength"} {
		if cfg.Settings.Has(key) && (!cfg.Settings.IsNumber(key) || cfg.Settings.Int(key) < 1) {
			return fmt.Errorf("%s must be a positive number", key)
		}
	}
	if v, ok := cfg.Settings["stopWords"]; ok {
		switch v.(type) {
		case []string, []interface{}:
		default:
			return fmt.Errorf("stopWords must be a list of strings")
		}
	}
	return nil
}

// Extract analyses the records.
func (e *Extractor) Extract(ctx context.Context, records []extractor.Record, env extractor.Env, cfg extractor.Config) (*extractor.Result, error) {
	start := time.Now()

	stop := make(map[string]bool, len(defaultStopWords))
	for _, w := range defaultStopWords {
		stop[w] = true
	}
	for _, w := range cfg.Settings.StringSlice("stopWords") {
		stop[strings.ToLower(w)] = true
	}

	a := Analyze(records, env.Loc(), stop, cfg.Settings.IntWithDefault("minWordLength", 4))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.Keywords = section.Limit(a.Keywords, cfg.Settings.IntWithDefault("topN", 8))

	htmlOut, textOut := e.render(a)

	keywords := make([]string, 0, len(a.Keywords))
	for _, k := range a.Keywords {
		keywords = append(keywords, k.Word)
	}

	return &extractor.Result{
		HTML: htmlOut,
		Text: textOut,
		Metadata: extractor.Metadata{
			RecordCount:    len(records),
			ItemCount:      len(a.Keywords),
			ProcessingTime: time.Since(start),
			Custom: map[string]interface{}{
				"totalRecordedMinutes": int(a.TotalRecorded.Minutes()),
				"sessions":             a.Sessions,
				"busiestHour":          a.BusiestHour,
				"partOfDay":            a.PartOfDay,
				"keywords":             keywords,
			},
		},
	}, nil
}

// Analyze computes the time breakdown and keyword frequencies.
func Analyze(records []extractor.Record, loc *time.Location, stop map[string]bool, minLen int) Analysis {
	a := Analysis{
		BusiestHour: -1,
		PartOfDay:   map[string]int{},
	}
	perHour := make(map[int]time.Duration)
	counts := make(map[string]int)

	for _, rec := range records {
		if d := rec.Duration(); d > 0 {
			a.Sessions++
			a.TotalRecorded += d
			a.PartOfDay[partOfDay(rec.StartTime.In(loc).Hour())]++
			spreadHours(rec.StartTime.In(loc), rec.EndTime.In(loc), perHour)
		}

		text := rec.Title
		rec.Walk(func(n extractor.ContentNode) {
			text += " " + n.Content
		})
		if len(rec.Contents) == 0 {
			text += " " + rec.Markdown
		}
		for _, word := range words(text) {
			if len([]rune(word)) < minLen || stop[word] {
				continue
			}
			counts[word]++
		}
	}

	for hour, d := range perHour {
		if d > a.BusiestTime || (d == a.BusiestTime && hour < a.BusiestHour) {
			a.BusiestHour = hour
			a.BusiestTime = d
		}
	}

	a.Keywords = make([]Keyword, 0, len(counts))
	for w, c := range counts {
		a.Keywords = append(a.Keywords, Keyword{Word: w, Count: c})
	}
	sort.Slice(a.Keywords, func(i, j int) bool {
		if a.Keywords[i].Count != a.Keywords[j].Count {
			return a.Keywords[i].Count > a.Keywords[j].Count
		}
		return a.Keywords[i].Word < a.Keywords[j].Word
	})

	return a
}

// spreadHours adds the overlap of [from, to) with each clock hour.
func spreadHours(from, to time.Time, perHour map[int]time.Duration) {
	for cur := from; cur.Before(to); {
		next := cur.Truncate(time.Hour).Add(time.Hour)
		if next.After(to) {
			next = to
		}
		perHour[cur.Hour()] += next.Sub(cur)
		cur = next
	}
}

func partOfDay(hour int) string {
	switch {
	case hour < 6:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func (e *Extractor) render(a Analysis) (string, string) {
	var h, t strings.Builder
	// Casers are stateful and not safe for concurrent use.
	title := cases.Title(language.English)

	recorded := formatDuration(a.TotalRecorded)
	fmt.Fprintf(&h, "<p>Recorded <strong>%s</strong> across %d sessions.</p>", recorded, a.Sessions)
	fmt.Fprintf(&t, "Recorded %s across %d sessions.\n", recorded, a.Sessions)

	if a.BusiestHour >= 0 {
		fmt.Fprintf(&h, "<p>Busiest hour: %02d:00 (%s).</p>", a.BusiestHour, formatDuration(a.BusiestTime))
		fmt.Fprintf(&t, "Busiest hour: %02d:00 (%s).\n", a.BusiestHour, formatDuration(a.BusiestTime))
	}

	parts := make([]string, 0, 4)
	for _, p := range []string{"morning", "afternoon", "evening", "night"} {
		if n := a.PartOfDay[p]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", p, n))
		}
	}
	if len(parts) > 0 {
		line := strings.Join(parts, ", ")
		fmt.Fprintf(&h, "<p>Sessions by part of day: %s.</p>", html.EscapeString(line))
		fmt.Fprintf(&t, "Sessions by part of day: %s.\n", line)
	}

	if len(a.Keywords) > 0 {
		labels := make([]string, 0, len(a.Keywords))
		for _, k := range a.Keywords {
			labels = append(labels, fmt.Sprintf("%s (%d)", title.String(k.Word), k.Count))
		}
		line := strings.Join(labels, ", ")
		fmt.Fprintf(&h, "<p>Top topics: %s</p>", html.EscapeString(line))
		fmt.Fprintf(&t, "Top topics: %s\n", line)
	}

	return h.String(), strings.TrimRight(t.String(), "\n")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}
